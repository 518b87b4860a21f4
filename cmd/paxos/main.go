// Command paxos runs one role (proposer, acceptor, learner, or client)
// of a Synod consensus deployment, reading group addresses from a
// configuration file and talking to the other roles over UDP multicast
// (spec §6).
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/spf13/cobra"

	"github.com/arnovale/synod/internal/client"
	"github.com/arnovale/synod/internal/config"
	"github.com/arnovale/synod/internal/paxos"
	"github.com/arnovale/synod/internal/transport"
)

const defaultPollInterval = 20 * time.Millisecond

func newLogger() log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	return logger
}

func main() {
	root := &cobra.Command{
		Use:   "paxos",
		Short: "Run a Synod consensus role over UDP multicast",
	}

	var (
		numProposers    int
		numAcceptors    int
		expectedClients int
		iface           string
		catchUp         bool
	)
	root.PersistentFlags().IntVar(&numProposers, "proposers", 3, "number of proposers in the deployment")
	root.PersistentFlags().IntVar(&numAcceptors, "acceptors", 3, "number of acceptors in the deployment")
	root.PersistentFlags().IntVar(&expectedClients, "expected-clients", 2, "number of distinct clients to wait for before terminating")
	root.PersistentFlags().StringVar(&iface, "interface", "", "network interface to join multicast groups on (default: kernel choice)")
	root.PersistentFlags().BoolVar(&catchUp, "catch-up", false, "request a catch-up gossip burst from peers at startup (for a learner joining late)")

	root.AddCommand(
		proposerCmd(&numProposers, &numAcceptors, &expectedClients, &iface),
		acceptorCmd(&iface),
		learnerCmd(&expectedClients, &catchUp, &iface),
		clientCmd(&iface),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfigOrExit(logger log.Logger, configPath string) *config.Config {
	cfg, err := config.Load(configPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func openTransportOrExit(home transport.Group, cfg *config.Config, ifaceName string) transport.Transport {
	iface, err := transport.ResolveInterface(ifaceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	tr, err := transport.NewUDPTransport(home, cfg.Groups, iface)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	return tr
}

func proposerCmd(numProposers, numAcceptors, expectedClients *int, iface *string) *cobra.Command {
	return &cobra.Command{
		Use:   "proposer <ordinal> <config-file>",
		Short: "Run as a proposer",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			ordinal, err := strconv.Atoi(args[0])
			if err != nil || ordinal < 1 {
				fmt.Fprintf(os.Stderr, "error: ordinal must be a positive integer, got %q\n", args[0])
				os.Exit(1)
			}
			logger := newLogger()
			cfg := loadConfigOrExit(logger, args[1])
			tr := openTransportOrExit(transport.Proposers, cfg, *iface)
			defer tr.Close()

			id := fmt.Sprintf("p%d", ordinal)
			p := paxos.NewProposer(id, ordinal, *numProposers, *numAcceptors, *expectedClients, tr, logger)
			level.Info(logger).Log("msg", "starting proposer", "id", id)
			p.Run(defaultPollInterval)
		},
	}
}

func acceptorCmd(iface *string) *cobra.Command {
	return &cobra.Command{
		Use:   "acceptor <id> <config-file>",
		Short: "Run as an acceptor",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			logger := newLogger()
			cfg := loadConfigOrExit(logger, args[1])
			tr := openTransportOrExit(transport.Acceptors, cfg, *iface)
			defer tr.Close()

			a := paxos.NewAcceptor(args[0], logger)
			level.Info(logger).Log("msg", "starting acceptor", "id", args[0])
			runAcceptor(a, tr, logger)
		},
	}
}

func runAcceptor(a *paxos.Acceptor, tr transport.Transport, logger log.Logger) {
	for {
		datagram, err := tr.ReceiveTimeout(defaultPollInterval)
		if err == transport.ErrTimeout {
			continue
		}
		if err != nil {
			level.Warn(logger).Log("msg", "receive error", "err", err)
			continue
		}
		if paxos.IsEndMarker(datagram) {
			level.Info(logger).Log("msg", "received end marker, exiting")
			return
		}
		msg, err := paxos.Parse(datagram)
		if err != nil {
			continue
		}
		switch msg.Verb {
		case paxos.VerbPhase1A:
			if reply, ok := a.HandlePhase1A(msg.Phase1A); ok {
				tr.Broadcast(transport.Proposers, reply.Encode())
			}
		case paxos.VerbPhase2A:
			if reply, ok := a.HandlePhase2A(msg.Phase2A); ok {
				tr.Broadcast(transport.Proposers, reply.Encode())
			}
		}
	}
}

func learnerCmd(expectedClients *int, catchUp *bool, iface *string) *cobra.Command {
	return &cobra.Command{
		Use:   "learner <id> <config-file>",
		Short: "Run as a learner",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			logger := newLogger()
			cfg := loadConfigOrExit(logger, args[1])
			tr := openTransportOrExit(transport.Learners, cfg, *iface)
			defer tr.Close()

			// --catch-up defaults to the reference deployment's
			// convention (only learner id "2" requests a catch-up burst
			// at startup) but an operator can always override it.
			requestCatchUp := *catchUp
			if !cmd.Flags().Changed("catch-up") {
				requestCatchUp = args[0] == "2"
			}

			l := paxos.NewLearner(args[0], *expectedClients, requestCatchUp, tr, stdoutSink{}, logger)
			level.Info(logger).Log("msg", "starting learner", "id", args[0])
			l.Run(defaultPollInterval)
		},
	}
}

// stdoutSink is the production paxos.Sink: each newly learned value is
// printed on its own line, flushed immediately so a supervising process
// piping this output sees it promptly (spec §6 "Learner output").
type stdoutSink struct{}

func (stdoutSink) Deliver(value string) {
	fmt.Println(value)
	os.Stdout.Sync()
}

func clientCmd(iface *string) *cobra.Command {
	return &cobra.Command{
		Use:   "client <id> <config-file>",
		Short: "Run as a client, submitting values read from stdin",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: client id must be an integer, got %q\n", args[0])
				os.Exit(1)
			}
			logger := newLogger()
			cfg := loadConfigOrExit(logger, args[1])
			tr := openTransportOrExit(transport.Proposers, cfg, *iface)
			defer tr.Close()

			c := client.New(id, tr, logger)
			if err := c.Run(os.Stdin); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
		},
	}
}
