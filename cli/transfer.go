package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"go.uber.org/atomic"

	"ytrelay/transfer"
)

const barPollInterval = 250 * time.Millisecond

var transferFlags struct {
	format      string
	title       string
	description string
	privacy     string
	tags        []string
}

var transferCmd = &cobra.Command{
	Use:   "transfer <url>",
	Short: "Download a video and upload it to YouTube",
	Args:  cobra.ExactArgs(1),
	RunE:  runTransfer,
}

func init() {
	f := transferCmd.Flags()
	f.StringVarP(&transferFlags.format, "format", "f", "", "format id or selector (default: platform format)")
	f.StringVar(&transferFlags.title, "title", "", "upload title (default: source title)")
	f.StringVar(&transferFlags.description, "description", "", "upload description (default: source description)")
	f.StringVar(&transferFlags.privacy, "privacy", "", "public, unlisted or private (default: upload.privacy)")
	f.StringSliceVar(&transferFlags.tags, "tag", nil, "upload tag, repeatable")
}

func runTransfer(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	job, err := a.transfers.Submit(ctx, transfer.Request{
		UserID:      userID,
		URL:         args[0],
		FormatID:    transferFlags.format,
		Title:       transferFlags.title,
		Description: transferFlags.description,
		Tags:        transferFlags.tags,
		Privacy:     transferFlags.privacy,
	})
	if err != nil {
		return err
	}

	job, err = watchJob(ctx, a.transfers.Store(), job.ID)
	if err != nil {
		return err
	}
	switch job.Status {
	case transfer.StatusCompleted:
		fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %q: %s\n", job.Result.Title, job.Result.URL)
		return nil
	case transfer.StatusCancelled:
		return fmt.Errorf("transfer cancelled: %s", job.Error)
	default:
		return errors.New(job.Error)
	}
}

// watchJob renders the progress of job id until it is terminal.
func watchJob(ctx context.Context, store transfer.Store, id string) (*transfer.Job, error) {
	p := mpb.NewWithContext(ctx, mpb.WithOutput(os.Stderr), mpb.WithWidth(48))
	var status, detail atomic.String
	bar := p.AddBar(100,
		mpb.PrependDecorators(
			decor.Any(func(decor.Statistics) string { return status.Load() }, decor.WCSyncSpaceR),
			decor.Percentage(decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.Any(func(decor.Statistics) string { return detail.Load() }),
		),
	)

	ticker := time.NewTicker(barPollInterval)
	defer ticker.Stop()
	for {
		job, err := store.Get(ctx, id)
		if err != nil {
			bar.Abort(false)
			p.Wait()
			return nil, err
		}
		status.Store(string(job.Status))
		detail.Store(jobDetail(job))
		bar.SetCurrent(int64(job.Progress))
		if job.Status.Terminal() {
			if job.Status == transfer.StatusCompleted {
				bar.SetTotal(100, true)
			} else {
				bar.Abort(false)
			}
			p.Wait()
			return job, nil
		}

		select {
		case <-ctx.Done():
			bar.Abort(false)
			p.Wait()
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func jobDetail(j *transfer.Job) string {
	switch {
	case j.Uploaded != "":
		return j.Uploaded + " / " + j.Total
	case j.Downloaded != "":
		s := j.Downloaded
		if j.Total != "" {
			s += " / " + j.Total
		}
		if j.Speed != "" {
			s += " at " + j.Speed
		}
		if j.ETA != "" {
			s += ", ETA " + j.ETA
		}
		return s
	}
	return ""
}
