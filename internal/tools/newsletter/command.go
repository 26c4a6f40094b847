// Package newsletter is the operator CLI that provisions per-site contact
// lists and templates and sends newsletter issues.
package newsletter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/calendarhub/intake/internal/di"
	"github.com/calendarhub/intake/internal/domain"
	"github.com/calendarhub/intake/internal/service"
	"github.com/calendarhub/intake/internal/tools/common"
	"github.com/calendarhub/intake/internal/tools/ui"
)

const maxContentBytes = 2 << 20

type Broadcaster interface {
	Broadcast(ctx context.Context, site domain.Site, content service.BroadcastContent) (service.BroadcastSummary, error)
}

type deps struct {
	sites      *domain.SiteDirectory
	admin      service.ListAdmin
	newsletter Broadcaster
}

type loader func(envFile string) (*deps, error)

type options struct {
	envFile string
	ci      bool
	timeout time.Duration
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(loadDeps)
}

func newRootCommand(load loader) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "newsletterctl",
		Short:         "Provision and send site newsletters",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "env file to load before reading config")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "print a single JSON result instead of the terminal view")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "overall timeout")

	cmd.AddCommand(
		setupCommand(opts, load),
		setupAllCommand(opts, load),
		listCommand(opts, load),
		sendCommand(opts, load),
	)
	return cmd
}

func setupCommand(opts *options, load loader) *cobra.Command {
	var slug string
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Create the contact list and template for one site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := load(opts.envFile)
			if err != nil {
				return err
			}
			_, err = run(opts, "setup "+slug, "setup", func(ctx context.Context) ([]string, error) {
				site, err := newsletterSite(d.sites, slug)
				if err != nil {
					return nil, err
				}
				return setupSite(ctx, d.admin, site)
			})
			return err
		},
	}
	cmd.Flags().StringVar(&slug, "slug", "", "site slug")
	_ = cmd.MarkFlagRequired("slug")
	return cmd
}

func setupAllCommand(opts *options, load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "setup-all",
		Short: "Provision every site that has a newsletter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := load(opts.envFile)
			if err != nil {
				return err
			}
			_, err = run(opts, "setup-all", "setup-all", func(ctx context.Context) ([]string, error) {
				return setupAll(ctx, d)
			})
			return err
		},
	}
}

func listCommand(opts *options, load loader) *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured newsletters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := load(opts.envFile)
			if err != nil {
				return err
			}
			_, err = run(opts, "list", "list", func(ctx context.Context) ([]string, error) {
				details := describeSites(d.sites)
				if !remote {
					return details, nil
				}
				lists, err := d.admin.ListContactLists(ctx)
				if err != nil {
					return details, fmt.Errorf("list contact lists: %w", err)
				}
				for _, l := range lists {
					details = append(details, fmt.Sprintf("provisioned list %s topics=%s", l.Name, strings.Join(l.Topics, ",")))
				}
				return details, nil
			})
			return err
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "also list contact lists provisioned in the email backend")
	return cmd
}

func sendCommand(opts *options, load loader) *cobra.Command {
	var (
		slug    string
		htmlSrc string
		textSrc string
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a newsletter issue to every subscriber of a site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := load(opts.envFile)
			if err != nil {
				return err
			}
			_, err = run(opts, "send "+slug, "send", func(ctx context.Context) ([]string, error) {
				site, err := newsletterSite(d.sites, slug)
				if err != nil {
					return nil, err
				}
				content := service.BroadcastContent{}
				if content.HTML, err = readContent(ctx, htmlSrc); err != nil {
					return nil, err
				}
				if textSrc != "" {
					if content.Text, err = readContent(ctx, textSrc); err != nil {
						return nil, err
					}
				}
				summary, err := d.newsletter.Broadcast(ctx, site, content)
				if err != nil {
					return nil, err
				}
				return []string{summary.Message()}, nil
			})
			return err
		},
	}
	cmd.Flags().StringVar(&slug, "slug", "", "site slug")
	cmd.Flags().StringVar(&htmlSrc, "html", "", "HTML body: a file path or an http(s) URL")
	cmd.Flags().StringVar(&textSrc, "text", "", "plain text body: a file path or an http(s) URL")
	_ = cmd.MarkFlagRequired("slug")
	_ = cmd.MarkFlagRequired("html")
	return cmd
}

func newsletterSite(sites *domain.SiteDirectory, slug string) (domain.Site, error) {
	site, ok := sites.Lookup(slug)
	if !ok {
		return domain.Site{}, fmt.Errorf("site %q not found in configuration", slug)
	}
	if !site.HasNewsletter() {
		return domain.Site{}, fmt.Errorf("site %q has no newsletter configured", slug)
	}
	return site, nil
}

func setupSite(ctx context.Context, admin service.ListAdmin, site domain.Site) ([]string, error) {
	list := service.NewsletterContactList(site)
	created, err := admin.EnsureContactList(ctx, list)
	if err != nil {
		return nil, fmt.Errorf("contact list %s: %w", list.Name, err)
	}
	details := []string{describeChange("contact list", list.Name, created)}

	if site.TemplateName == "" {
		return append(details, "no template configured"), nil
	}
	tmpl := service.NewsletterTemplate(site)
	created, err = admin.UpsertTemplate(ctx, tmpl)
	if err != nil {
		return details, fmt.Errorf("template %s: %w", tmpl.Name, err)
	}
	return append(details, describeChange("template", tmpl.Name, created)), nil
}

func setupAll(ctx context.Context, d *deps) ([]string, error) {
	var (
		details []string
		errs    []error
		total   int
		ok      int
	)
	for _, site := range d.sites.All() {
		if !site.HasNewsletter() {
			continue
		}
		total++
		lines, err := setupSite(ctx, d.admin, site)
		for _, l := range lines {
			details = append(details, site.Slug+": "+l)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", site.Slug, err))
			continue
		}
		ok++
	}
	details = append(details, fmt.Sprintf("set up %d/%d newsletters", ok, total))
	return details, errors.Join(errs...)
}

func describeChange(kind, name string, created bool) string {
	if created {
		return fmt.Sprintf("created %s %s", kind, name)
	}
	return fmt.Sprintf("%s %s already exists", kind, name)
}

func describeSites(sites *domain.SiteDirectory) []string {
	var out []string
	for _, s := range sites.All() {
		if !s.HasNewsletter() {
			continue
		}
		out = append(out, fmt.Sprintf("%s name=%q list=%s topic=%s template=%s",
			s.Slug, s.Name, s.ContactListName, s.TopicName, s.TemplateName))
	}
	if len(out) == 0 {
		out = append(out, "no newsletters configured")
	}
	return out
}

func readContent(ctx context.Context, src string) (string, error) {
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		raw, err := os.ReadFile(src)
		if err != nil {
			return "", fmt.Errorf("read content: %w", err)
		}
		return string(raw), nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", fmt.Errorf("build content request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch content: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch content: %s returned %d", src, resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxContentBytes))
	if err != nil {
		return "", fmt.Errorf("read content body: %w", err)
	}
	return string(raw), nil
}

func run(opts *options, title, action string, fn func(ctx context.Context) ([]string, error)) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	if opts.ci {
		details, err := fn(ctx)
		common.PrintCIResult(err == nil, title, details, err)
		if err != nil {
			return details, fmt.Errorf("%s: %w", action, err)
		}
		return details, nil
	}
	details, err := ui.Run(ctx, title, fn)
	if err != nil {
		return details, fmt.Errorf("%s: %w", action, err)
	}
	return details, nil
}

func loadDeps(envFile string) (*deps, error) {
	if err := common.LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	if _, ok := os.LookupEnv("LOG_OUTPUT"); !ok {
		_ = os.Setenv("LOG_OUTPUT", "stderr")
	}
	tools, err := di.InitializeNewsletterTools()
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return &deps{sites: tools.Sites, admin: tools.Admin, newsletter: tools.Newsletter}, nil
}
