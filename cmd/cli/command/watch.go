package command

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"possync/internal/microservices/mirror"
	udp "possync/internal/microservices/udp-server"
	"possync/internal/protocol"
)

var (
	watchRedisAddr string
	watchChannel   string
)

// watchCmd follows the Redis tick mirror
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow broadcast ticks mirrored to Redis",
	Long: `Subscribe to the Redis channel the sync server mirrors its ticks to and print each
tick as it arrives. Requires the server to run with REDIS_ADDR set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}
		defer logger.Sync()

		addr, channel := cfg.RedisAddr, cfg.RedisChannel
		if cmd.Flags().Changed("redis") {
			addr = watchRedisAddr
		}
		if cmd.Flags().Changed("channel") {
			channel = watchChannel
		}
		if addr == "" {
			return fmt.Errorf("no Redis address, set REDIS_ADDR or --redis")
		}

		m, err := mirror.NewRedisMirror(addr, cfg.RedisPassword, channel, logger)
		if err != nil {
			return err
		}
		defer m.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if latest, ok, err := m.Latest(ctx); err == nil && ok {
			fmt.Printf("Last tick before subscribing: #%d with %d session(s)\n", latest.Tick, len(latest.Positions))
		}

		fmt.Printf("Watching %s on %s (Ctrl+C to stop)\n", channel, addr)
		return m.Subscribe(ctx, func(event udp.TickEvent) {
			fmt.Printf("tick #%d at %s, %d session(s)\n", event.Tick, event.At.Format("15:04:05"), len(event.Positions))
			for _, p := range event.Positions {
				fmt.Printf("  %-40s %s\n", p.Addr, protocol.EncodePosition(p.Position))
			}
		})
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchRedisAddr, "redis", "", "Redis address (overrides REDIS_ADDR)")
	watchCmd.Flags().StringVar(&watchChannel, "channel", "possync:ticks", "channel name (overrides REDIS_CHANNEL)")
}
