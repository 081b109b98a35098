package main

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/photojournal/service/internal/client"
	"github.com/photojournal/service/internal/config"
	"github.com/photojournal/service/internal/logging"
	"github.com/photojournal/service/internal/transfer"
)

const defaultServer = "http://localhost:8080"

// app carries what every subcommand needs. Tests set cfg and httpClient
// directly; main leaves them nil so they are loaded from the environment.
type app struct {
	out        io.Writer
	cfg        *config.Config
	httpClient *http.Client

	server string
	token  string
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "uploader",
		Short:         "Upload photos to the photo journal",
		Long:          `Uploads images straight to object storage with presigned credentials issued by the photo journal API.`,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg == nil {
				cfg, err := config.Load()
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				a.cfg = cfg
			}
			logging.Setup(a.cfg.LogLevel, "console")
			return nil
		},
	}
	root.SetOut(a.out)

	root.PersistentFlags().StringVarP(&a.server, "server", "s", envOr("PHOTOJOURNAL_SERVER", defaultServer), "API base URL")
	root.PersistentFlags().StringVarP(&a.token, "token", "t", os.Getenv("PHOTOJOURNAL_TOKEN"), "bearer token (see the token command)")

	root.AddCommand(
		newUploadCmd(a),
		newStoreCmd(a),
		newResolveCmd(a),
		newDeleteCmd(a),
		newTokenCmd(a),
	)
	return root
}

func (a *app) client() *client.Client {
	return client.New(a.server, a.token, a.httpClient)
}

func (a *app) executor() *transfer.Executor {
	return transfer.NewExecutor(a.httpClient, a.cfg.Upload.MaxSize, a.cfg.Upload.TransferTimeout)
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
