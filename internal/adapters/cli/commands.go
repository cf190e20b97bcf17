// Package cli is the tagger's command-line front end: it checks batches out
// into a local folder for the annotation tool, sends the result back and
// onboards new image folders.
package cli

import (
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"

	"github.com/kirillkom/tagging-coordinator/internal/core/domain"
	"github.com/kirillkom/tagging-coordinator/internal/core/vott"
	"github.com/kirillkom/tagging-coordinator/internal/infrastructure/resilience"
	"github.com/spf13/cobra"
)

const (
	defaultCheckoutCount = 40
	maxCheckoutCount     = 100
	documentFileName     = "data.json"
)

func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "taggerctl",
		Short:         "Check image batches out for tagging and send them back",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("server", envOr("TAGGER_URL", "http://localhost:8080"), "Tagging API base URL")
	root.PersistentFlags().String("user", os.Getenv("TAGGER_USER"), "Tagger user name")

	root.AddCommand(newDownloadCommand(), newUploadCommand(), newOnboardCommand())
	return root
}

func clientFromFlags(cmd *cobra.Command) (*Client, error) {
	server, _ := cmd.Flags().GetString("server")
	user, _ := cmd.Flags().GetString("user")
	if user == "" {
		return nil, fmt.Errorf("--user (or TAGGER_USER) is required")
	}
	return NewClient(server, user, resilience.NewExecutor(resilience.ClientConfig())), nil
}

func newDownloadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Check out a batch and fetch its images into --dir",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			count, _ := cmd.Flags().GetInt("count")
			dir, _ := cmd.Flags().GetString("dir")
			container, _ := cmd.Flags().GetString("container")
			if count <= 0 || count > maxCheckoutCount {
				return fmt.Errorf("--count must be in (0, %d], got %d", maxCheckoutCount, count)
			}
			client, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}

			doc, err := client.Download(cmd.Context(), count)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Received %d files.\n", len(doc.Frames))

			if err := os.RemoveAll(dir); err != nil {
				return fmt.Errorf("clear %s: %w", dir, err)
			}
			dataDir := filepath.Join(dir, "data")
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", dataDir, err)
			}

			local := vott.Document{
				Frames:    make(map[string][]vott.Region, len(doc.Frames)),
				InputTags: doc.InputTags,
				SCD:       doc.SCD,
			}
			for _, name := range sortedFrames(doc) {
				path := filepath.Join(dataDir, name)
				if err := fetchTo(cmd, client, container, name, path); err != nil {
					return err
				}
				local.Frames[path] = doc.Frames[name]
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			if err := writeDocument(filepath.Join(dir, documentFileName), local); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Ready to tag!")
			return nil
		},
	}
	cmd.Flags().Int("count", defaultCheckoutCount, "Number of images to check out")
	cmd.Flags().String("dir", "tagging", "Local tagging folder (replaced on every download)")
	cmd.Flags().String("container", "permanent", "Blob container holding onboarded images")
	return cmd
}

func newUploadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Send the annotation document in --dir back to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			client, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(filepath.Join(dir, documentFileName))
			if err != nil {
				return fmt.Errorf("read annotation document: %w", err)
			}
			var doc vott.Document
			if err := json.Unmarshal(raw, &doc); err != nil {
				return fmt.Errorf("parse annotation document: %w", err)
			}
			trimmed, err := vott.TrimFramePaths(doc)
			if err != nil {
				return err
			}
			summary, err := client.Upload(cmd.Context(), trimmed)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Done! tagged=%d visited=%d not_visited=%d labels=%d\n",
				len(summary.TaggedImages), len(summary.VisitedNoTag), len(summary.NotVisited), summary.LabelsWritten)
			return nil
		},
	}
	cmd.Flags().String("dir", "tagging", "Local tagging folder")
	return cmd
}

func newOnboardCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "onboard FOLDER",
		Short: "Upload every image in FOLDER and queue it for onboarding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, _ := cmd.Flags().GetString("container")
			client, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}
			entries, err := os.ReadDir(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			var images []domain.OnboardImage
			for _, entry := range entries {
				if entry.IsDir() || !domain.IsSupportedImageFile(entry.Name()) {
					continue
				}
				img, err := uploadImage(cmd, client, container, filepath.Join(args[0], entry.Name()))
				if err != nil {
					return err
				}
				images = append(images, img)
				fmt.Fprintf(cmd.OutOrStdout(), "Uploaded image %s\n", entry.Name())
			}
			if len(images) == 0 {
				return fmt.Errorf("no supported images in %s", args[0])
			}
			if err := client.Onboard(cmd.Context(), images); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %d images for onboarding.\n", len(images))
			return nil
		},
	}
	cmd.Flags().String("container", "temp", "Blob container for freshly uploaded images")
	return cmd
}

func uploadImage(cmd *cobra.Command, client *Client, container, path string) (domain.OnboardImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.OnboardImage{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return domain.OnboardImage{}, fmt.Errorf("read dimensions of %s: %w", path, err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return domain.OnboardImage{}, fmt.Errorf("rewind %s: %w", path, err)
	}
	name := filepath.Base(path)
	if err := client.PutBlob(cmd.Context(), container, name, f); err != nil {
		return domain.OnboardImage{}, err
	}
	return domain.OnboardImage{
		Container: container,
		BlobName:  name,
		FileName:  name,
		Height:    cfg.Height,
		Width:     cfg.Width,
	}, nil
}

func fetchTo(cmd *cobra.Command, client *Client, container, name, path string) error {
	data, err := client.FetchBlob(cmd.Context(), container, name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func writeDocument(path string, doc vott.Document) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode annotation document: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write annotation document: %w", err)
	}
	return nil
}

func sortedFrames(doc vott.Document) []string {
	names := make([]string, 0, len(doc.Frames))
	for name := range doc.Frames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
