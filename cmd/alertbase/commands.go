package main

import (
	"fmt"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/rpcpool/alertbase"
	"github.com/rpcpool/alertbase/internal/alertrecord"
)

func dbFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "bucket",
			Usage:   "object-store bucket, recorded in a freshly created database's manifest",
			EnvVars: []string{"ALERTBASE_S3_BUCKET"},
		},
		&cli.StringFlag{
			Name:    "s3-region",
			Usage:   "object-store region, recorded in a freshly created database's manifest",
			EnvVars: []string{"ALERTBASE_S3_REGION"},
		},
		&cli.StringFlag{
			Name:    "s3-endpoint",
			Usage:   "override the default object-store host (S3-compatible backends, local testing)",
			EnvVars: []string{"ALERTBASE_S3_ENDPOINT"},
		},
		&cli.BoolFlag{
			Name:  "create-db",
			Usage: "create the database if it does not already exist",
		},
		&cli.IntFlag{
			Name:  "blob-concurrency",
			Usage: "max concurrent blob-store sessions (0 = blobstore default)",
		},
	}
}

func openDB(c *cli.Context, dbPath string) (*alertbase.Database, error) {
	return alertbase.Open(alertbase.Config{
		DBRoot:          dbPath,
		CreateIfMissing: c.Bool("create-db"),
		S3Bucket:        c.String("bucket"),
		S3Region:        c.String("s3-region"),
		S3Endpoint:      c.String("s3-endpoint"),
		BlobConcurrency: c.Int("blob-concurrency"),
	})
}

func newCmdUploadTarfile() *cli.Command {
	return &cli.Command{
		Name:      "upload-tarfile",
		Usage:     "ingest alert records from a gzipped tar archive",
		ArgsUsage: "<db_path> <tarfile>",
		Flags: append(dbFlags(),
			&cli.BoolFlag{
				Name:  "skip-existing",
				Usage: "drop records whose candidate id is already indexed",
				Value: true,
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "stop after this many records are accepted for upload (0 = no limit)",
			},
			&cli.IntFlag{
				Name:  "upload-worker-count",
				Usage: "number of concurrent upload workers",
				Value: runtime.NumCPU(),
			},
		),
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("expected <db_path> <tarfile>, got %d args", c.NArg())
			}
			dbPath, tarfile := c.Args().Get(0), c.Args().Get(1)

			db, err := openDB(c, dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			started := time.Now()
			stats, err := db.IngestTarfile(c.Context, tarfile, alertbase.IngestOptions{
				WorkerCount:  c.Int("upload-worker-count"),
				Limit:        c.Int("limit"),
				SkipExisting: c.Bool("skip-existing"),
			})
			klog.Infof("alertbase: scanned=%s uploaded=%s skipped=%s in %s",
				humanize.Comma(int64(stats.Scanned)),
				humanize.Comma(int64(stats.Uploaded)),
				humanize.Comma(int64(stats.Skipped)),
				time.Since(started).Truncate(time.Millisecond))
			return err
		},
	}
}

func printRecord(rec *alertrecord.AlertRecord) {
	fmt.Printf("candidate_id=%d object_id=%s jd=%.6f ra=%.6f dec=%.6f bytes=%d\n",
		rec.CandidateID, rec.ObjectID, rec.JD, rec.Position.RA, rec.Position.Dec, len(rec.RawPayload))
}

func newCmdGetCandidate() *cli.Command {
	return &cli.Command{
		Name:      "get-candidate",
		Usage:     "fetch a single alert by candidate id",
		ArgsUsage: "<db_path> <candidate_id>",
		Flags:     dbFlags(),
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("expected <db_path> <candidate_id>, got %d args", c.NArg())
			}
			db, err := openDB(c, c.Args().Get(0))
			if err != nil {
				return err
			}
			defer db.Close()

			var id int64
			if _, err := fmt.Sscanf(c.Args().Get(1), "%d", &id); err != nil {
				return fmt.Errorf("parsing candidate id: %w", err)
			}

			rec, found, err := db.GetByCandidateID(c.Context, id)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("alertbase: no candidate %d", id)
			}
			printRecord(rec)
			return nil
		},
	}
}

func newCmdGetObject() *cli.Command {
	return &cli.Command{
		Name:      "get-object",
		Usage:     "fetch every alert recorded against an object id",
		ArgsUsage: "<db_path> <object_id>",
		Flags: append(dbFlags(), &cli.IntFlag{
			Name:  "worker-count",
			Usage: "number of concurrent downloads",
			Value: runtime.NumCPU(),
		}),
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("expected <db_path> <object_id>, got %d args", c.NArg())
			}
			db, err := openDB(c, c.Args().Get(0))
			if err != nil {
				return err
			}
			defer db.Close()

			recs, err := db.GetByObjectID(c.Context, c.Args().Get(1), c.Int("worker-count"))
			if err != nil {
				return err
			}
			for _, rec := range recs {
				printRecord(rec)
			}
			return nil
		},
	}
}

func newCmdTimeRange() *cli.Command {
	return &cli.Command{
		Name:      "time-range",
		Usage:     "fetch every alert timestamped within [start, end)",
		ArgsUsage: "<db_path> <start_unix_seconds> <end_unix_seconds>",
		Flags: append(dbFlags(), &cli.IntFlag{
			Name:  "worker-count",
			Usage: "number of concurrent downloads",
			Value: runtime.NumCPU(),
		}),
		Action: func(c *cli.Context) error {
			if c.NArg() != 3 {
				return fmt.Errorf("expected <db_path> <start> <end>, got %d args", c.NArg())
			}
			db, err := openDB(c, c.Args().Get(0))
			if err != nil {
				return err
			}
			defer db.Close()

			var start, end float64
			if _, err := fmt.Sscanf(c.Args().Get(1), "%g", &start); err != nil {
				return fmt.Errorf("parsing start: %w", err)
			}
			if _, err := fmt.Sscanf(c.Args().Get(2), "%g", &end); err != nil {
				return fmt.Errorf("parsing end: %w", err)
			}

			recs, err := db.GetByTimeRange(c.Context, start, end, c.Int("worker-count"))
			if err != nil {
				return err
			}
			for _, rec := range recs {
				printRecord(rec)
			}
			return nil
		},
	}
}

func newCmdConeSearch() *cli.Command {
	return &cli.Command{
		Name:      "cone-search",
		Usage:     "fetch every alert within a pixel-accurate disc around (ra, dec)",
		ArgsUsage: "<db_path> <ra_deg> <dec_deg> <radius_deg>",
		Flags: append(dbFlags(), &cli.IntFlag{
			Name:  "worker-count",
			Usage: "number of concurrent downloads",
			Value: runtime.NumCPU(),
		}),
		Action: func(c *cli.Context) error {
			if c.NArg() != 4 {
				return fmt.Errorf("expected <db_path> <ra> <dec> <radius>, got %d args", c.NArg())
			}
			db, err := openDB(c, c.Args().Get(0))
			if err != nil {
				return err
			}
			defer db.Close()

			var ra, dec, radius float64
			if _, err := fmt.Sscanf(c.Args().Get(1), "%g", &ra); err != nil {
				return fmt.Errorf("parsing ra: %w", err)
			}
			if _, err := fmt.Sscanf(c.Args().Get(2), "%g", &dec); err != nil {
				return fmt.Errorf("parsing dec: %w", err)
			}
			if _, err := fmt.Sscanf(c.Args().Get(3), "%g", &radius); err != nil {
				return fmt.Errorf("parsing radius: %w", err)
			}

			recs, err := db.GetByConeSearch(c.Context, ra, dec, radius, c.Int("worker-count"))
			if err != nil {
				return err
			}
			for _, rec := range recs {
				printRecord(rec)
			}
			return nil
		},
	}
}

func newCmdStats() *cli.Command {
	return &cli.Command{
		Name:      "stats",
		Usage:     "print secondary-index table counts and object-store location",
		ArgsUsage: "<db_path>",
		Flags:     dbFlags(),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected <db_path>, got %d args", c.NArg())
			}
			db, err := openDB(c, c.Args().Get(0))
			if err != nil {
				return err
			}
			defer db.Close()

			s, err := db.Stats()
			if err != nil {
				return err
			}
			fmt.Printf("bucket=%s region=%s\n", s.Bucket, s.Region)
			fmt.Printf("candidates=%s objects=%s healpixels=%s timestamps=%s\n",
				humanize.Comma(int64(s.Candidates)), humanize.Comma(int64(s.Objects)),
				humanize.Comma(int64(s.Healpixels)), humanize.Comma(int64(s.Timestamps)))
			return nil
		},
	}
}
