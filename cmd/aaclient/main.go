package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/blndgs/aaclient"
	"github.com/blndgs/aaclient/config"
)

var (
	configFile string
	conf       *config.Config
	logger     *zap.Logger
)

func init() {
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "load configuration from file")
	cmd.PersistentFlags().String("log-level", "info", "logging level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("log-json", false, "log as JSON instead of plain text")
	cmd.PersistentFlags().String("bundler-url", "", "bundler JSON-RPC endpoint")
	cmd.PersistentFlags().String("rpc-url", "", "node JSON-RPC endpoint")

	for key, flag := range map[string]string{
		"log.level":   "log-level",
		"log.json":    "log-json",
		"bundler-url": "bundler-url",
		"rpc-url":     "rpc-url",
	} {
		if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	serveCmd.Flags().String("listen", "", "HTTP gateway listen address")
	if err := viper.BindPFlag("http.listen", serveCmd.Flags().Lookup("listen")); err != nil {
		panic(err)
	}

	cmd.AddCommand(addressCmd, invokeCmd, callCmd, serveCmd)
}

var cmd = &cobra.Command{
	Use:           "aaclient",
	Short:         "submit ERC-4337 user operations from a smart account",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if conf, err = config.Load(configFile, viper.GetViper()); err != nil {
			return err
		}
		logger, err = newLogger(conf.Log)
		return err
	},
}

func newLogger(c config.LogConfig) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(strings.ToLower(c.Level))
	if err != nil {
		return nil, err
	}
	zc := zap.NewDevelopmentConfig()
	if c.JSON {
		zc = zap.NewProductionConfig()
	}
	zc.Level = lvl
	return zc.Build()
}

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "print the owner, smart account and entry point deposit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd.Context(), func(a *app, c *aaclient.Client) error {
			deposit, err := c.DepositBalance(cmd.Context())
			if err != nil {
				return err
			}
			pm, _ := c.PaymasterAddress()
			fmt.Fprintf(cmd.OutOrStdout(), "owner:      %s\naccount:    %s\nchain id:   %s\nentrypoint: %s\npaymaster:  %s\ndeposit:    %s wei\n",
				c.Owner(), c.SmartAccountAddress(), c.ChainID(), c.EntryPoint(), pm, deposit)
			return nil
		})
	},
}

var invokeCmd = &cobra.Command{
	Use:   "invoke <function> [args...]",
	Short: "call a target contract function through a user operation",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(a *app, c *aaclient.Client) error {
			fnArgs, err := a.parseArgs(args[0], args[1:])
			if err != nil {
				return err
			}
			result, err := a.invoker.Invoke(cmd.Context(), c, args[0], fnArgs...)
			if err != nil {
				return errors.New(aaclient.ErrorMessage(err))
			}
			out := cmd.OutOrStdout()
			if result.Approval != nil {
				fmt.Fprintf(out, "approval: %s (nonce %s)\n", result.Approval.Hash, result.Approval.Nonce)
			}
			fmt.Fprintf(out, "%s: %s (nonce %s)\n", args[0], result.Main.Hash, result.Main.Nonce)
			return nil
		})
	},
}

var callCmd = &cobra.Command{
	Use:   "call <function> [args...]",
	Short: "read a target contract view function",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(a *app, c *aaclient.Client) error {
			fnArgs, err := a.parseArgs(args[0], args[1:])
			if err != nil {
				return err
			}
			out, err := a.invoker.Call(cmd.Context(), c, args[0], fnArgs...)
			if err != nil {
				return errors.New(aaclient.ErrorMessage(err))
			}
			for _, v := range out {
				fmt.Fprintln(cmd.OutOrStdout(), v)
			}
			return nil
		})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the HTTP gateway",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, conf, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		go func() {
			if _, err := a.connect(ctx); err != nil && !errors.Is(err, aaclient.ErrSuperseded) {
				logger.Error("session connect failed", zap.Error(err))
			}
		}()

		if conf.Log.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		srv := &http.Server{
			Addr:              conf.HTTP.Listen,
			Handler:           newRouter(a.session, a.invoker, logger.Named("gateway")),
			ReadHeaderTimeout: 10 * time.Second,
		}
		errc := make(chan error, 1)
		go func() {
			logger.Info("gateway listening", zap.String("addr", srv.Addr))
			errc <- srv.ListenAndServe()
		}()

		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

// withClient builds the app, connects the session and runs fn.
func withClient(ctx context.Context, fn func(a *app, c *aaclient.Client) error) error {
	a, err := newApp(ctx, conf, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	c, err := a.connect(ctx)
	if err != nil {
		return err
	}
	return fn(a, c)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if logger != nil {
			_ = logger.Sync()
		}
		os.Exit(1)
	}
	if logger != nil {
		_ = logger.Sync()
	}
}
