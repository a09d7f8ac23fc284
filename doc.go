// Package ytrelay relays videos from other platforms to YouTube.
//
// Overview
//
// A transfer takes a source URL through classification, best-effort
// metadata extraction, a download in the chosen format and a resumable
// upload to the user's channel. The automation loop watches source
// channels and relays their new uploads the same way.
//
// The work is split across sub-packages:
//
//   - platform: URL classification and per-platform download policy
//   - extract: yt-dlp and direct-link extraction and download
//   - metadata: normalised metadata, sanitising and the preview cache
//   - formats: format selection, quality ranking and the size guard
//   - youtube: channel lookups, OAuth and the resumable uploader
//   - transfer: the job state machine, its store and the worker pool
//   - automation: per-user channel monitoring
//   - storage: credentials, settings, channels, logs and history
//   - server: the HTTP API
//   - config: layered configuration
//
// Quick Start
//
// Run a single transfer with an orchestrator built from the defaults:
//
//	orch := transfer.New(transfer.Options{
//		Extractor:  extractor,
//		Publisher:  youtube.NewUploader(clients, 8<<20, retry.UploadConfig()),
//		Classifier: platform.NewClassifier(yhttp.New(nil), 5*time.Second),
//	})
//	job, err := orch.Run(ctx, transfer.Request{UserID: "me", URL: url})
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(job.Result.URL)
//
// Configuration
//
// Settings are layered as defaults, an optional .env file, ytrelay.yaml
// (in the working directory or $HOME/.config/ytrelay) and YTRELAY_*
// environment variables. See the config package for the keys.
//
// Error Handling
//
// Errors wrap the sentinels re-exported here, so callers test them with
// errors.Is and errors.As:
//
//	if errors.Is(err, ytrelay.ErrPoolFull) {
//		// retry later
//	}
//
//	var xerr *ytrelay.ExtractionError
//	if errors.As(err, &xerr) && xerr.Kind == metadata.KindRateLimited {
//		// back off
//	}
//
// Dependencies
//
// Extraction and downloads from every platform but direct links need
// yt-dlp in PATH or at ytdlp.path.
package ytrelay
