package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
)

type kmsMACAPI interface {
	GenerateMac(ctx context.Context, params *kms.GenerateMacInput, optFns ...func(*kms.Options)) (*kms.GenerateMacOutput, error)
	VerifyMac(ctx context.Context, params *kms.VerifyMacInput, optFns ...func(*kms.Options)) (*kms.VerifyMacOutput, error)
}

// KMSMACSigner delegates HMAC-SHA-512 to a KMS key. The key material never
// leaves the service; verification is also done remotely.
type KMSMACSigner struct {
	client kmsMACAPI
	keyID  string
}

func NewKMSMACSigner(cfg aws.Config, keyID string) *KMSMACSigner {
	return &KMSMACSigner{client: kms.NewFromConfig(cfg), keyID: keyID}
}

func (s *KMSMACSigner) Sign(ctx context.Context, message []byte) ([]byte, error) {
	out, err := s.client.GenerateMac(ctx, &kms.GenerateMacInput{
		KeyId:        aws.String(s.keyID),
		MacAlgorithm: kmstypes.MacAlgorithmSpecHmacSha512,
		Message:      message,
	})
	if err != nil {
		return nil, fmt.Errorf("kms generate mac: %w", err)
	}
	return out.Mac, nil
}

func (s *KMSMACSigner) Verify(ctx context.Context, message, signature []byte) (bool, error) {
	out, err := s.client.VerifyMac(ctx, &kms.VerifyMacInput{
		KeyId:        aws.String(s.keyID),
		MacAlgorithm: kmstypes.MacAlgorithmSpecHmacSha512,
		Message:      message,
		Mac:          signature,
	})
	if err != nil {
		var invalid *kmstypes.KMSInvalidMacException
		if errors.As(err, &invalid) {
			return false, nil
		}
		return false, fmt.Errorf("kms verify mac: %w", err)
	}
	return out.MacValid, nil
}
