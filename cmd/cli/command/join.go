package command

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"possync/internal/dispatch"
	udpclient "possync/internal/microservices/udp-client"
	"possync/internal/protocol"
)

var (
	joinServer     string
	joinPort       int
	joinHeartbeat  time.Duration
	joinCount      int
	joinAckTimeout time.Duration
	joinDrainEvery time.Duration
)

// joinCmd runs one client session against the sync server
var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join the sync server and print position updates",
	Long: `Connect to the sync server over UDP and print every position it sends.

This command will:
1. Send the connect request
2. Send a heartbeat right away and then on every heartbeat interval
3. Print each position update as it is drained from the dispatch queue

Press Ctrl+C to stop. The server evicts the session once heartbeats stop.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}
		defer logger.Sync()

		clientCfg := cfg.ClientConfig()
		if cmd.Flags().Changed("server") {
			clientCfg.ServerHost = joinServer
		}
		if cmd.Flags().Changed("port") {
			clientCfg.ServerPort = joinPort
		}
		if cmd.Flags().Changed("heartbeat") {
			clientCfg.HeartbeatInterval = joinHeartbeat
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		received := 0
		queue := dispatch.NewQueue()
		c := udpclient.New(clientCfg, queue, func(v protocol.Vector3) {
			received++
			fmt.Printf("[%s] #%d position %s\n", time.Now().Format("15:04:05"), received, protocol.EncodePosition(v))
			if joinCount > 0 && received >= joinCount {
				stop()
			}
		}, logger)

		fmt.Printf("Connecting to %s:%d ...\n", clientCfg.ServerHost, clientCfg.ServerPort)
		if err := c.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}

		go func() {
			select {
			case <-c.Acked():
				fmt.Println("Connection acknowledged")
			case <-time.After(joinAckTimeout):
				fmt.Fprintf(os.Stderr, "No acknowledgement after %s, still waiting\n", joinAckTimeout)
			case <-ctx.Done():
			}
		}()

		// blocks until Ctrl+C or --count is reached
		dispatch.Run(ctx, queue, joinDrainEvery)

		if err := c.Close(); err != nil {
			logger.Debug("client_close_failed", zap.Error(err))
		}
		printStats(c.Stats())
		return nil
	},
}

func printStats(stats udpclient.Stats) {
	fmt.Println("\nSession statistics")
	fmt.Println("----------------------------------------")
	fmt.Printf("  Connected at:        %s\n", stats.ConnectedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Positions received:  %d\n", stats.PositionsReceived)
	fmt.Printf("  Heartbeats sent:     %d\n", stats.HeartbeatsSent)
	fmt.Printf("  Decode errors:       %d\n", stats.DecodeErrors)

	if !stats.LastPositionAt.IsZero() {
		fmt.Printf("  Last position:       %s at %s\n", protocol.EncodePosition(stats.LastPosition), stats.LastPositionAt.Format("15:04:05"))
	} else {
		fmt.Printf("  Last position:       N/A\n")
	}
	fmt.Println("----------------------------------------")
}

func init() {
	joinCmd.Flags().StringVar(&joinServer, "server", "127.0.0.1", "sync server host (overrides UDP_SERVER_HOST)")
	joinCmd.Flags().IntVar(&joinPort, "port", 22044, "sync server port (overrides UDP_PORT)")
	joinCmd.Flags().DurationVar(&joinHeartbeat, "heartbeat", 5*time.Second, "heartbeat interval (overrides HEARTBEAT_INTERVAL)")
	joinCmd.Flags().IntVar(&joinCount, "count", 0, "exit after this many positions (0 = run until interrupted)")
	joinCmd.Flags().DurationVar(&joinAckTimeout, "ack-timeout", 5*time.Second, "warn when the server has not answered within this time")
	joinCmd.Flags().DurationVar(&joinDrainEvery, "drain-interval", 50*time.Millisecond, "how often queued updates are printed")
}
