package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/photojournal/service/internal/auth"
	"github.com/photojournal/service/internal/photo"
	"github.com/photojournal/service/internal/reconcile"
	"github.com/photojournal/service/internal/transfer"
	"github.com/photojournal/service/internal/upload"
)

type uploadOptions struct {
	title       string
	description string
	visibility  string
	folder      string
	discard     bool
}

func newUploadCmd(a *app) *cobra.Command {
	var opts uploadOptions
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload an image directly to storage and commit it as a photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.folder == "" {
				opts.folder = a.cfg.Upload.DefaultFolder
			}
			return a.runUpload(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.title, "title", "", "photo title (defaults to the file name)")
	cmd.Flags().StringVar(&opts.description, "description", "", "photo description")
	cmd.Flags().StringVar(&opts.visibility, "visibility", photo.VisibilityPrivate, "public or private")
	cmd.Flags().StringVar(&opts.folder, "folder", "", "key prefix (defaults to UPLOAD_DEFAULT_FOLDER)")
	cmd.Flags().BoolVar(&opts.discard, "discard", false, "delete the object after uploading instead of committing it")
	return cmd
}

func (a *app) runUpload(cmd *cobra.Command, path string, opts uploadOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	img, err := openImage(path)
	if err != nil {
		return err
	}
	defer img.Close()

	exec := a.executor()
	if err := exec.Validate(img.File); err != nil {
		return err
	}

	api := a.client()
	cred, err := api.IssueWriteCredential(ctx, upload.CredentialRequest{
		Filename:    img.Name,
		ContentType: img.Type,
		Size:        img.Size,
		Folder:      opts.folder,
	})
	if err != nil {
		return fmt.Errorf("issue credential: %w", err)
	}

	session := reconcile.NewSession()
	if err := session.Begin(); err != nil {
		return err
	}

	err = exec.Transfer(ctx, img.File, cred, func(pct int) {
		fmt.Fprintf(out, "\ruploading %s %3d%%", img.Name, pct)
	})
	fmt.Fprintln(out)
	if err != nil {
		_ = session.Fail(err)
		return err
	}

	rec := reconcile.New(api, api)
	if err := rec.OnTransferSucceeded(session, cred.Key); err != nil {
		return err
	}

	if opts.discard {
		if err := rec.Discard(ctx, session); err != nil {
			return err
		}
		fmt.Fprintf(out, "discarded %s\n", cred.Key)
		return nil
	}

	title := opts.title
	if title == "" {
		title = strings.TrimSuffix(img.Name, filepath.Ext(img.Name))
	}
	p, err := rec.Commit(ctx, session, photo.CreateInput{
		Title:       title,
		Description: opts.description,
		Visibility:  opts.visibility,
		Width:       img.Width,
		Height:      img.Height,
	})
	if err != nil {
		// Nothing references the object, so remove it rather than leave an orphan.
		if derr := rec.Discard(ctx, session); derr != nil {
			log.Warn().Err(derr).Str("key", cred.Key).Msg("uploader: orphan left in storage")
		}
		return err
	}

	fmt.Fprintf(out, "committed photo %s\nkey: %s\nurl: %s\n", p.ID, p.Key, p.URL)
	return nil
}

func newStoreCmd(a *app) *cobra.Command {
	var folder string
	cmd := &cobra.Command{
		Use:   "store <file>",
		Short: "Upload an image through the API server",
		Long:  `Sends the whole file to the API, which writes it to storage. Use this when storage is unreachable from the caller.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if folder == "" {
				folder = a.cfg.Upload.DefaultFolder
			}

			img, err := openImage(args[0])
			if err != nil {
				return err
			}
			defer img.Close()
			if err := a.executor().Validate(img.File); err != nil {
				return err
			}

			data, err := io.ReadAll(img.Body)
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			obj, err := a.client().StoreObject(cmd.Context(), upload.StoreRequest{
				Filename:    img.Name,
				ContentType: img.Type,
				Folder:      folder,
				Payload:     base64.StdEncoding.EncodeToString(data),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "key: %s\nurl: %s\n", obj.Key, obj.PublicURL)
			return nil
		},
	}
	cmd.Flags().StringVar(&folder, "folder", "", "key prefix (defaults to UPLOAD_DEFAULT_FOLDER)")
	return cmd
}

func newResolveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <key>",
		Short: "Print a time-limited read URL for an object key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.client().PresignedURL(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), u)
			return nil
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete an uncommitted object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client().DeleteObject(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func newTokenCmd(a *app) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token from JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.IsProduction() {
				return errors.New("token: refusing to mint tokens with APP_ENV=production")
			}
			tok, err := auth.IssueToken(a.cfg.JWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "caller identity placed in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

// localImage is an open file ready for transfer, with its pixel size when
// the format is one the standard decoders know.
type localImage struct {
	transfer.File
	Width  int
	Height int
	file   *os.File
}

func (i *localImage) Close() error {
	return i.file.Close()
}

func openImage(path string) (*localImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	contentType, err := detectType(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}

	img := &localImage{
		File: transfer.File{Name: filepath.Base(path), Type: contentType, Size: info.Size(), Body: f},
		file: f,
	}
	if cfg, _, err := image.DecodeConfig(f); err == nil {
		img.Width, img.Height = cfg.Width, cfg.Height
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("rewind %s: %w", path, err)
	}
	return img, nil
}

// detectType prefers the extension and falls back to sniffing the first
// 512 bytes. f is rewound before returning.
func detectType(f *os.File, path string) (string, error) {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		if mediaType, _, err := mime.ParseMediaType(t); err == nil {
			return mediaType, nil
		}
	}

	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind %s: %w", path, err)
	}
	mediaType, _, _ := mime.ParseMediaType(http.DetectContentType(head[:n]))
	return mediaType, nil
}
