package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/spf13/cobra"

	"inventory-agent/internal/integrations/gmail"
	"inventory-agent/internal/integrations/mailfile"
	"inventory-agent/internal/integrations/openai"
	"inventory-agent/internal/integrations/paramstore"
	"inventory-agent/internal/poller"
	"inventory-agent/internal/rate"
	"inventory-agent/internal/repository"
	"inventory-agent/internal/usecase"
)

type pollOptions struct {
	inbox            string
	outbox           string
	seenFile         string
	seenTable        string
	interval         time.Duration
	maxInterval      time.Duration
	failureThreshold int
	once             bool

	useGmail         bool
	paramPrefix      string
	gmailCredentials string
	gmailToken       string
	sender           string
	gmailRPS         int
	projectionModel  bool
}

// mailbox is both ends of a mail transport.
type mailbox interface {
	poller.Mailbox
	usecase.Mailer
}

type seenStore interface {
	poller.SeenSet
	Close() error
}

func newPollCmd(opts *globalOptions) *cobra.Command {
	po := &pollOptions{}
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Watch a mailbox and answer inventory requests",
		Long: `Fetches unseen messages, claims each one in the seen-set and answers those
whose subject starts with "Consulta inventario:".

By default the mailbox is a pair of local files (--inbox, --outbox). With
--gmail the agent reads and replies through the Gmail API; OAuth secrets come
from --gmail-credentials/--gmail-token files or, when those are unset, from
SSM under --param-prefix.

The seen-set is a JSON file (--seen-file) unless --seen-table names a
DynamoDB table, which is safe to share between several pollers.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPoll(ctx, opts, po)
		},
	}

	f := cmd.Flags()
	f.StringVar(&po.inbox, "inbox", envOr("INBOX_FILE", "data/test_emails.json"), "JSON inbox file")
	f.StringVar(&po.outbox, "outbox", envOr("OUTBOX_FILE", "data/sent_emails.log"), "JSON-lines file replies are appended to")
	f.StringVar(&po.seenFile, "seen-file", envOr("SEEN_FILE", "data/seen_ids.json"), "Seen-set file")
	f.StringVar(&po.seenTable, "seen-table", os.Getenv("SEEN_TABLE"), "DynamoDB table for the seen-set (overrides --seen-file)")
	f.DurationVar(&po.interval, "interval", 30*time.Second, "Delay between scans")
	f.DurationVar(&po.maxInterval, "max-interval", 10*time.Minute, "Longest delay while backing off")
	f.IntVar(&po.failureThreshold, "failure-threshold", 3, "Consecutive failures before backing off")
	f.BoolVar(&po.once, "once", false, "Scan once and exit")
	f.BoolVar(&po.useGmail, "gmail", false, "Use the Gmail API instead of local files")
	f.StringVar(&po.paramPrefix, "param-prefix", os.Getenv("PARAM_PREFIX"), "SSM prefix for Gmail and OpenAI secrets")
	f.StringVar(&po.gmailCredentials, "gmail-credentials", "", "OAuth client secret JSON file")
	f.StringVar(&po.gmailToken, "gmail-token", "", "OAuth token JSON file")
	f.StringVar(&po.sender, "sender", os.Getenv("SENDER_ADDRESS"), "From address on Gmail replies")
	f.IntVar(&po.gmailRPS, "gmail-rps", 5, "Gmail API calls per second")
	f.BoolVar(&po.projectionModel, "openai-projection", false, "Ask OpenAI for projection queries (needs --param-prefix)")
	return cmd
}

func runPoll(ctx context.Context, opts *globalOptions, po *pollOptions) (err error) {
	store, err := opts.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeWith(&err, store, "inventory")

	secretFiles := po.gmailCredentials != "" || po.gmailToken != ""
	needSSM := po.paramPrefix != "" && (po.projectionModel || (po.useGmail && !secretFiles))

	var (
		ssmClient *paramstore.Client
		seen      seenStore
	)
	if needSSM || po.seenTable != "" {
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("load AWS config: %w", err)
		}
		if needSSM {
			if ssmClient, err = paramstore.New(awsssm.NewFromConfig(awsCfg)); err != nil {
				return err
			}
		}
		if po.seenTable != "" {
			table, err := repository.NewSeenTable(awsdynamodb.NewFromConfig(awsCfg), po.seenTable)
			if err != nil {
				return err
			}
			seen = table
		}
	}
	if seen == nil {
		file, err := repository.OpenSeenFile(po.seenFile)
		if err != nil {
			return err
		}
		seen = file
	}
	return pollWith(ctx, opts, po, store, ssmClient, seen)
}

func pollWith(ctx context.Context, opts *globalOptions, po *pollOptions, store *repository.InventoryStore, ssmClient *paramstore.Client, seen seenStore) (err error) {
	// flush the seen-set on every exit path
	defer closeWith(&err, seen, "seen-set")

	mb, cleanup, err := openMailbox(ctx, opts, po, ssmClient)
	if err != nil {
		return err
	}
	defer cleanup()

	var extra []usecase.Option
	if po.projectionModel {
		if ssmClient == nil {
			return errors.New("--openai-projection requires --param-prefix")
		}
		inferer, err := openai.NewClient(ssmClient, po.paramPrefix)
		if err != nil {
			return err
		}
		extra = append(extra, usecase.WithProjectionInferer(inferer))
	}

	svc, err := opts.newProcessService(store, mb, extra...)
	if err != nil {
		return err
	}
	p, err := poller.New(mb, seen, svc, opts.log, poller.Config{
		Interval:         po.interval,
		MaxInterval:      po.maxInterval,
		FailureThreshold: po.failureThreshold,
	})
	if err != nil {
		return err
	}

	if po.once {
		stats, err := p.PollOnce(ctx)
		opts.log.Info("scan finished", "fetched", stats.Fetched, "processed", stats.Processed,
			"failed", stats.Failed, "skipped", stats.Skipped)
		return err
	}
	return p.Run(ctx)
}

func openMailbox(ctx context.Context, opts *globalOptions, po *pollOptions, ssmClient *paramstore.Client) (mailbox, func(), error) {
	if !po.useGmail {
		mb, err := mailfile.New(po.inbox, po.outbox, opts.log)
		return mb, func() {}, err
	}

	creds, token, err := gmailSecrets(ctx, po, ssmClient)
	if err != nil {
		return nil, nil, err
	}
	svc, err := gmail.NewService(ctx, creds, token)
	if err != nil {
		return nil, nil, err
	}
	limiter := rate.NewTokenBucket(po.gmailRPS)
	client, err := gmail.NewClient(svc,
		gmail.WithLimiter(limiter),
		gmail.WithLogger(opts.log),
		gmail.WithSender(po.sender),
	)
	if err != nil {
		limiter.Stop()
		return nil, nil, err
	}
	return client, limiter.Stop, nil
}

func gmailSecrets(ctx context.Context, po *pollOptions, ssmClient *paramstore.Client) ([]byte, []byte, error) {
	if po.gmailCredentials != "" || po.gmailToken != "" {
		creds, err := os.ReadFile(po.gmailCredentials)
		if err != nil {
			return nil, nil, fmt.Errorf("read gmail credentials: %w", err)
		}
		token, err := os.ReadFile(po.gmailToken)
		if err != nil {
			return nil, nil, fmt.Errorf("read gmail token: %w", err)
		}
		return creds, token, nil
	}
	if ssmClient == nil {
		return nil, nil, errors.New("--gmail needs --gmail-credentials and --gmail-token, or --param-prefix")
	}
	return ssmClient.GmailSecrets(ctx, po.paramPrefix)
}
