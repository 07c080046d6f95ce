package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/outlit-agent/internal/builder"
	"github.com/GabrielNunesIT/outlit-agent/internal/client"
	"github.com/GabrielNunesIT/outlit-agent/internal/config"
	"github.com/GabrielNunesIT/outlit-agent/internal/model"
	"github.com/GabrielNunesIT/outlit-agent/internal/transport"
)

// sendOptions holds the flags of the send command.
type sendOptions struct {
	name             string
	email            string
	userID           string
	fingerprint      string
	domain           string
	customerID       string
	stripeCustomerID string
	properties       map[string]string
	traits           map[string]string
	transport        string
}

// NewSendCmd creates the send command, which delivers one event and exits.
func NewSendCmd(cfgFile, logLevel *string) *cobra.Command {
	opts := &sendOptions{}

	cmd := &cobra.Command{
		Use:   "send <track|identify|activated|engaged|inactive|trialing|paid|churned>",
		Short: "Send a single event",
		Example: `  outlit-agent send track --name signup --email jane@acme.com --property plan=pro
  outlit-agent send identify --user-id 42 --email jane@acme.com --trait name=Jane
  outlit-agent send paid --domain acme.com --customer-id cus_1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := buildEvent(args[0], opts)
			if err != nil {
				return err
			}
			return sendEvent(cmd, *cfgFile, *logLevel, opts, b)
		},
	}

	cmd.Flags().StringVar(&opts.name, "name", "", "event name (track)")
	cmd.Flags().StringVar(&opts.email, "email", "", "user email")
	cmd.Flags().StringVar(&opts.userID, "user-id", "", "application user id")
	cmd.Flags().StringVar(&opts.fingerprint, "fingerprint", "", "anonymous device fingerprint")
	cmd.Flags().StringVar(&opts.domain, "domain", "", "customer domain (billing)")
	cmd.Flags().StringVar(&opts.customerID, "customer-id", "", "customer id (billing)")
	cmd.Flags().StringVar(&opts.stripeCustomerID, "stripe-customer-id", "", "Stripe customer id (billing)")
	cmd.Flags().StringToStringVar(&opts.properties, "property", nil, "event property key=value (repeatable)")
	cmd.Flags().StringToStringVar(&opts.traits, "trait", nil, "user trait key=value (identify, repeatable)")
	cmd.Flags().StringVar(&opts.transport, "transport", "", "transport kind override")

	return cmd
}

// primaryIdentity picks email, then user id, then fingerprint.
func primaryIdentity(opts *sendOptions) (builder.Identity, bool) {
	switch {
	case opts.email != "":
		return builder.Email(opts.email), true
	case opts.userID != "":
		return builder.UserID(opts.userID), true
	case opts.fingerprint != "":
		return builder.Fingerprint(opts.fingerprint), true
	}
	return builder.Identity{}, false
}

// buildEvent turns the command arguments into a validated event builder.
func buildEvent(kind string, opts *sendOptions) (builder.Builder, error) {
	var b builder.Builder

	switch kind {
	case "trialing", "paid", "churned":
		if opts.domain == "" {
			return nil, fmt.Errorf("--domain is required for %s", kind)
		}
		bb := builder.Billing(model.BillingStatus(kind), opts.domain).
			CustomerID(opts.customerID).
			StripeCustomerID(opts.stripeCustomerID)
		for k, v := range opts.properties {
			bb.Property(k, v)
		}
		b = bb

	case "track", "identify", "activated", "engaged", "inactive":
		identity, ok := primaryIdentity(opts)
		if !ok {
			return nil, fmt.Errorf("one of --email, --user-id or --fingerprint is required for %s", kind)
		}

		switch kind {
		case "track":
			if opts.name == "" {
				return nil, fmt.Errorf("--name is required for track")
			}
			tb := builder.Track(opts.name, identity).
				Email(opts.email).
				UserID(opts.userID).
				Fingerprint(opts.fingerprint)
			for k, v := range opts.properties {
				tb.Property(k, v)
			}
			b = tb
		case "identify":
			ib := builder.Identify(identity).
				Email(opts.email).
				UserID(opts.userID).
				Fingerprint(opts.fingerprint)
			for k, v := range opts.traits {
				ib.Trait(k, v)
			}
			b = ib
		default:
			sb := builder.Stage(model.JourneyStage(kind), identity).
				Email(opts.email).
				UserID(opts.userID).
				Fingerprint(opts.fingerprint)
			for k, v := range opts.properties {
				sb.Property(k, v)
			}
			b = sb
		}

	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}

	if err := b.Build().Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

func sendEvent(cmd *cobra.Command, cfgFile, logLevel string, opts *sendOptions, b builder.Builder) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if opts.transport != "" {
		cfg.Transport.Kind = opts.transport
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := SetupLogging(cmd.ErrOrStderr(), effectiveLevel(logLevel, cfg.LogLevel))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.ShutdownTimeout)
	defer cancel()

	tr, err := transport.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("creating transport: %w", err)
	}
	defer tr.Close(ctx)

	return deliverOne(ctx, cfg.Client, tr, b, log)
}

// deliverOne enqueues a single event and shuts the client down, which sends it.
func deliverOne(ctx context.Context, cfg config.ClientConfig, tr transport.Transport, b builder.Builder, log logger.ILogger) error {
	c, err := client.New(cfg, tr, log)
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	// A failed size-triggered flush leaves the event queued for the terminal flush.
	if err := c.Send(ctx, b); err != nil {
		log.Warningf("first delivery attempt failed, retrying on shutdown: %v", err)
	}
	if err := c.Shutdown(ctx); err != nil {
		return fmt.Errorf("sending event: %w", err)
	}
	log.Infof("event sent: transport=%s", tr.Name())
	return nil
}
