package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tharunyogenthra/bitleech/engine"
)

func init() {
	rootCmd.PersistentFlags().Uint16VarP(
		&listenPort, "port", "p", engine.DefaultConfig().ListenPort, "port advertised to HTTP trackers")
	rootCmd.PersistentFlags().DurationVarP(
		&dhtTimeout, "dht-timeout", "", engine.DefaultConfig().DHTTimeout, "wall-clock bound on the DHT peer-discovery fallback")
	rootCmd.PersistentFlags().StringVarP(
		&outDir, "out-dir", "o", engine.DefaultConfig().OutDir, "directory the downloaded payload is written under")
	rootCmd.PersistentFlags().BoolVarP(
		&verbose, "verbose", "v", false, "enable debug-level logging")

	rootCmd.AddCommand(downloadCmd)
}

var (
	listenPort uint16
	dhtTimeout time.Duration
	outDir     string
	verbose    bool

	rootCmd = &cobra.Command{
		Use:   "bitleech",
		Short: "bitleech downloads a single torrent's payload as a leecher and exits",
	}

	downloadCmd = &cobra.Command{
		Use:   "download <metainfo-path>",
		Short: "download the payload described by a .torrent file",
		Args:  cobra.ExactArgs(1),
		RunE:  runDownload,
	}
)

// Execute runs the root command, exiting the process with a non-zero
// status on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDownload(cmd *cobra.Command, args []string) error {
	// The logged error below is the only diagnostic a failed download prints.
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	log := logrus.New()
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	entry := logrus.NewEntry(log)

	sink := func(line string) {
		fmt.Fprintln(os.Stderr, line)
	}

	cfg := engine.Config{
		ListenPort: listenPort,
		DHTTimeout: dhtTimeout,
		OutDir:     outDir,
	}

	result, err := engine.Run(context.Background(), args[0], cfg, sink, entry)
	if err != nil {
		entry.WithError(err).Error("download failed")
		return err
	}

	fmt.Fprintf(os.Stderr, "done: wrote %d bytes to %s\n", result.Bytes, result.OutputPath)
	return nil
}
