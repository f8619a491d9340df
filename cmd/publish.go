package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/deal-map/internal/feed"
)

var publishFile string

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a batch to the feed channel",
	Long:  "Reads a mapDataUpdate batch from --file or stdin and publishes it on the configured Redis channel, replacing what every connected map shows.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("publish"); err != nil {
			return err
		}

		payload, err := readBatch(cmd.InOrStdin(), publishFile)
		if err != nil {
			return err
		}
		// Decode locally so a malformed file never reaches subscribers.
		batch, err := feed.DecodeBatch(payload)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		client, err := feed.NewRedisClient(ctx, cfg.Feed.RedisAddr, cfg.Feed.RedisPassword, cfg.Feed.RedisDB)
		if err != nil {
			return err
		}
		defer client.Close()

		receivers, err := feed.NewRedisPublisher(client, cfg.Feed.Channel).Publish(ctx, batch)
		if err != nil {
			return err
		}

		zap.L().Info("published batch",
			zap.String("channel", cfg.Feed.Channel),
			zap.Int("records", len(batch)),
			zap.Int64("receivers", receivers),
		)
		return nil
	},
}

func init() {
	publishCmd.Flags().StringVar(&publishFile, "file", "", "batch file (default stdin)")
	rootCmd.AddCommand(publishCmd)
}
