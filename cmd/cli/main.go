package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"ebicsnexus/internal/config"
	"ebicsnexus/internal/crypto"
	"ebicsnexus/internal/ebics"
	"ebicsnexus/internal/ebicsengine"
	"ebicsnexus/internal/kmssign"
	"ebicsnexus/internal/payment"
	"ebicsnexus/internal/scheduler"
	"ebicsnexus/internal/store"
	"ebicsnexus/internal/subscriber"
)

// Exit codes per spec.md §6.
const (
	exitOK           = 0
	exitFailure      = 1
	exitLookupMissing = 2
	exitPrereqMissing = 77
)

func main() {
	os.Exit(run())
}

func run() int {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		return exitCodeFor(err)
	}
	return exitOK
}

// exitErr carries a specific exit code alongside the error cobra prints.
type exitErr struct {
	code int
	err  error
}

func (e *exitErr) Error() string { return e.err.Error() }
func (e *exitErr) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	if ee, ok := err.(*exitErr); ok {
		return ee.code
	}
	return exitFailure
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "nexus",
		Short:         "EBICS bank-communication gateway bridging a Taler wire-gateway API to an EBICS-speaking bank",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "nexus.conf", "path to the nexus configuration file")

	root.AddCommand(
		newDBInitCmd(&configPath),
		newEbicsSetupCmd(&configPath),
		newEbicsSubmitCmd(&configPath),
		newEbicsFetchCmd(&configPath),
		newInitiatePaymentCmd(&configPath),
		newTestingCmd(&configPath),
		newConfigCmd(&configPath),
	)
	return root
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, &exitErr{code: exitPrereqMissing, err: fmt.Errorf("load config: %w", err)}
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	st, err := store.New(ctx, store.Config{
		Host: cfg.NexusDB.Host, Port: cfg.NexusDB.Port, User: cfg.NexusDB.User,
		Password: cfg.NexusDB.Password, Name: cfg.NexusDB.Name, SSLMode: cfg.NexusDB.SSLMode,
		MaxConns: cfg.NexusDB.MaxConns,
	})
	if err != nil {
		return nil, &exitErr{code: exitPrereqMissing, err: fmt.Errorf("open store: %w", err)}
	}
	return st, nil
}

func newDBInitCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "dbinit",
		Short: "Run pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Migrate(ctx); err != nil {
				return &exitErr{code: exitFailure, err: err}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "database schema is up to date")
			return nil
		},
	}
}

func newEbicsSetupCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ebics-setup",
		Short: "Walk a fresh subscriber through INI, HIA and HPB key management",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEbicsSetup(cmd, *configPath)
		},
	}
}

func runEbicsSetup(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	out := cmd.OutOrStdout()

	sub, err := st.LoadSubscriber(ctx, 1)
	if err == store.ErrNotFound {
		authKeys, genErr := crypto.GenerateKeyPair()
		if genErr != nil {
			return &exitErr{code: exitFailure, err: genErr}
		}
		encKeys, genErr := crypto.GenerateKeyPair()
		if genErr != nil {
			return &exitErr{code: exitFailure, err: genErr}
		}
		sigKeys, genErr := crypto.GenerateKeyPair()
		if genErr != nil {
			return &exitErr{code: exitFailure, err: genErr}
		}
		authDER, _ := crypto.MarshalPrivateKey(authKeys.Private)
		encDER, _ := crypto.MarshalPrivateKey(encKeys.Private)
		sigDER, _ := crypto.MarshalPrivateKey(sigKeys.Private)

		id, createErr := st.CreateSubscriber(ctx, store.Subscriber{
			PartnerID: cfg.NexusEbics.PartnerID,
			UserID:    cfg.NexusEbics.UserID,
			HostID:    cfg.NexusEbics.HostID,
			EbicsURL:  cfg.NexusEbics.HostBaseURL,
			Dialect:   cfg.NexusEbics.BankDialect,
			AuthPriv:  authDER, EncPriv: encDER, SigPriv: sigDER,
		})
		if createErr != nil {
			return &exitErr{code: exitFailure, err: createErr}
		}
		fmt.Fprintf(out, "created subscriber %d at key state FRESH\n", id)
		sub, err = st.LoadSubscriber(ctx, id)
	}
	if err != nil {
		return &exitErr{code: exitFailure, err: err}
	}

	authPriv, err := crypto.ParsePrivateKey(sub.AuthPriv)
	if err != nil {
		return &exitErr{code: exitFailure, err: err}
	}
	encPriv, err := crypto.ParsePrivateKey(sub.EncPriv)
	if err != nil {
		return &exitErr{code: exitFailure, err: err}
	}
	sigPriv, err := crypto.ParsePrivateKey(sub.SigPriv)
	if err != nil {
		return &exitErr{code: exitFailure, err: err}
	}

	transport := ebicsengine.NewHTTPTransport(cfg.NexusEbics.HostBaseURL)
	engine := ebicsengine.NewEngine(ebics.RequestContext{
		Version:   ebics.H004,
		HostID:    cfg.NexusEbics.HostID,
		PartnerID: cfg.NexusEbics.PartnerID,
		UserID:    cfg.NexusEbics.UserID,
	}, transport)

	if sub.KeyState == store.StateFresh {
		if err := engine.SubmitINI(ctx, &sigPriv.PublicKey); err != nil {
			return &exitErr{code: exitFailure, err: fmt.Errorf("submit INI: %w", err)}
		}
		if err := st.AdvanceKeyState(ctx, sub.ID, store.StateINISent); err != nil {
			return &exitErr{code: exitFailure, err: err}
		}
		fmt.Fprintln(out, "INI accepted")
		sub.KeyState = store.StateINISent
	}

	if sub.KeyState == store.StateINISent {
		if err := engine.SubmitHIA(ctx, &authPriv.PublicKey, &encPriv.PublicKey); err != nil {
			return &exitErr{code: exitFailure, err: fmt.Errorf("submit HIA: %w", err)}
		}
		if err := st.AdvanceKeyState(ctx, sub.ID, store.StateHIASent); err != nil {
			return &exitErr{code: exitFailure, err: err}
		}
		fmt.Fprintln(out, "HIA accepted")
		sub.KeyState = store.StateHIASent
	}

	if sub.KeyState == store.StateHIASent {
		fmt.Fprintln(out, "print the following fingerprints and compare them against the bank's key letter before continuing:")
		fmt.Fprintf(out, "  authentication key: %s\n", crypto.FingerprintHex(&authPriv.PublicKey))
		fmt.Fprintf(out, "  encryption key:     %s\n", crypto.FingerprintHex(&encPriv.PublicKey))
		if err := st.AdvanceKeyState(ctx, sub.ID, store.StateKeysLetterPrinted); err != nil {
			return &exitErr{code: exitFailure, err: err}
		}
		sub.KeyState = store.StateKeysLetterPrinted
	}

	if sub.KeyState == store.StateKeysLetterPrinted {
		keys, err := engine.FetchHPB(ctx, authPriv, nil, authPriv, encPriv)
		if err != nil {
			return &exitErr{code: exitFailure, err: fmt.Errorf("fetch HPB: %w", err)}
		}
		authHex, encHex := keys.FingerprintLetter()
		fmt.Fprintln(out, "bank published these public keys; confirm they match the bank's printed letter before accepting:")
		fmt.Fprintf(out, "  bank authentication key: %s\n", authHex)
		fmt.Fprintf(out, "  bank encryption key:     %s\n", encHex)

		if !confirm(cmd, "accept these bank keys? [y/N] ") {
			return &exitErr{code: exitFailure, err: fmt.Errorf("bank keys rejected by operator")}
		}

		authPub, _ := crypto.MarshalPublicKey(keys.Authentication)
		encPub, _ := crypto.MarshalPublicKey(keys.Encryption)
		if err := st.UpdateBankKeys(ctx, sub.ID, authPub, encPub); err != nil {
			return &exitErr{code: exitFailure, err: err}
		}
		if err := st.AdvanceKeyState(ctx, sub.ID, store.StateReady); err != nil {
			return &exitErr{code: exitFailure, err: err}
		}

		if cfg.NexusEbics.BankPublicKeysFile != "" {
			if err := subscriber.SaveBankKeys(cfg.NexusEbics.BankPublicKeysFile, &subscriber.BankKeyFile{
				AuthPub: authPub, EncPub: encPub, Accepted: true,
			}); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: failed to write bank public keys file: %v\n", err)
			}
		}
		fmt.Fprintln(out, "subscriber is READY")
		return nil
	}

	fmt.Fprintln(out, "subscriber is already READY")
	return nil
}

func confirm(cmd *cobra.Command, prompt string) bool {
	fmt.Fprint(cmd.OutOrStdout(), prompt)
	reader := bufio.NewReader(cmd.InOrStdin())
	line, _ := reader.ReadString('\n')
	return line == "y\n" || line == "Y\n" || line == "yes\n"
}

func newEbicsSubmitCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ebics-submit",
		Short: "Submit every pending payment to the bank once, outside the scheduler's polling loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			sub, err := st.LoadSubscriber(ctx, 1)
			if err == store.ErrNotFound {
				return &exitErr{code: exitLookupMissing, err: err}
			}
			if err != nil {
				return &exitErr{code: exitFailure, err: err}
			}

			engine := newEngine(cfg)
			submitter := scheduler.NewSubmitter(st, engine, sub.ID,
				cfg.NexusEbics.IBAN, cfg.NexusEbics.BIC, cfg.NexusEbics.Name,
				&sync.Mutex{}, scheduler.DefaultSubmitterConfig())
			if cfg.NexusEbics.KMSSigningKeyID != "" {
				kmsSigner, err := kmssign.NewSigner(ctx, cfg.NexusEbics.KMSSigningKeyID)
				if err != nil {
					return &exitErr{code: exitFailure, err: fmt.Errorf("kms signer: %w", err)}
				}
				submitter.SetSigner(kmsSigner.ForContext(ctx))
			}
			if err := submitter.RunOnce(ctx); err != nil {
				return &exitErr{code: exitFailure, err: err}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "submit cycle complete")
			return nil
		},
	}
}

func newEbicsFetchCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ebics-fetch",
		Short: "Download and ingest bank statements once, outside the scheduler's polling loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			sub, err := st.LoadSubscriber(ctx, 1)
			if err == store.ErrNotFound {
				return &exitErr{code: exitLookupMissing, err: err}
			}
			if err != nil {
				return &exitErr{code: exitFailure, err: err}
			}

			engine := newEngine(cfg)
			fetchCfg := scheduler.DefaultFetcherConfig()
			fetcher := scheduler.NewFetcher(st, engine, sub.ID, cfg.NexusEbics.IBAN, &sync.Mutex{}, fetchCfg)
			if err := fetcher.RunOnce(ctx); err != nil {
				return &exitErr{code: exitFailure, err: err}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "fetch cycle complete")
			return nil
		},
	}
}

func newEngine(cfg *config.Config) *ebicsengine.Engine {
	transport := ebicsengine.NewHTTPTransport(cfg.NexusEbics.HostBaseURL)
	return ebicsengine.NewEngine(ebics.RequestContext{
		Version:   ebics.H004,
		HostID:    cfg.NexusEbics.HostID,
		PartnerID: cfg.NexusEbics.PartnerID,
		UserID:    cfg.NexusEbics.UserID,
	}, transport)
}

func newInitiatePaymentCmd(configPath *string) *cobra.Command {
	var amount, subject, requestUID string

	cmd := &cobra.Command{
		Use:   "initiate-payment <payto>",
		Short: "Queue a payment for the submitter to upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			credit, err := payment.ParsePayto(args[0])
			if err != nil {
				return &exitErr{code: exitFailure, err: err}
			}
			amt, err := payment.ParseAmount(amount)
			if err != nil {
				return &exitErr{code: exitFailure, err: err}
			}
			if requestUID == "" {
				return &exitErr{code: exitFailure, err: fmt.Errorf("--request-uid is required")}
			}

			ctx := context.Background()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			id, err := st.CreateInitiated(ctx, 1, store.InitiatedPayment{
				Amount: amt, Subject: subject, CreditPayto: credit.Canonical(), RequestUID: requestUID,
			})
			if err != nil {
				return &exitErr{code: exitFailure, err: err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued payment %d\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "amount as CUR:V[.F] (required)")
	cmd.Flags().StringVar(&subject, "subject", "", "payment subject line")
	cmd.Flags().StringVar(&requestUID, "request-uid", "", "idempotency key (required)")
	cmd.MarkFlagRequired("amount")
	cmd.MarkFlagRequired("request-uid")
	return cmd
}

func newTestingCmd(configPath *string) *cobra.Command {
	testingCmd := &cobra.Command{
		Use:   "testing",
		Short: "Test and simulation helpers, not for production use",
	}

	var amount, reservePub string
	fakeIncoming := &cobra.Command{
		Use:   "fake-incoming <payto>",
		Short: "Simulate an incoming bank transaction without going through EBICS",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			debit, err := payment.ParsePayto(args[0])
			if err != nil {
				return &exitErr{code: exitFailure, err: err}
			}
			amt, err := payment.ParseAmount(amount)
			if err != nil {
				return &exitErr{code: exitFailure, err: err}
			}

			var reservePubPtr *string
			if reservePub != "" {
				reservePubPtr = &reservePub
			}

			ctx := context.Background()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			id, _, err := st.RecordIncomingIfNew(ctx, 1, store.IncomingPayment{
				Amount: amt, DebitPayto: debit.Canonical(), Subject: reservePub,
				ExecutionTime: time.Now(), BankID: fmt.Sprintf("fake-%d", time.Now().UnixNano()),
				ReservePub: reservePubPtr,
			})
			if err != nil {
				return &exitErr{code: exitFailure, err: err}
			}
			_ = st.Notify(ctx, "incoming."+cfg.NexusEbics.IBAN)
			fmt.Fprintf(cmd.OutOrStdout(), "recorded incoming payment %d\n", id)
			return nil
		},
	}
	fakeIncoming.Flags().StringVar(&amount, "amount", "", "amount as CUR:V[.F] (required)")
	fakeIncoming.Flags().StringVar(&reservePub, "reserve-pub", "", "52-character Crockford reserve public key")
	fakeIncoming.MarkFlagRequired("amount")

	testingCmd.AddCommand(fakeIncoming)
	return testingCmd
}

func newConfigCmd(configPath *string) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the nexus configuration file",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Print every section.key = value pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), cfg.Dump())
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "get <section.key>",
		Short: "Print a single configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			v, ok := cfg.Get(args[0])
			if !ok {
				return &exitErr{code: exitLookupMissing, err: fmt.Errorf("no such key %q", args[0])}
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "pathsub <template>",
		Short: "Substitute $section/key placeholders in template with their configured values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfg.PathSub(args[0]))
			return nil
		},
	})

	return configCmd
}
