package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nimburion/nimqueue/pkg/queue"
)

func (r *runner) newQueueCommand() *cobra.Command {
	var connection string

	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and operate on queues",
	}
	queueCmd.PersistentFlags().StringVar(&connection, "connection", "", "queue connection (default: queue.default)")

	queueCmd.AddCommand(&cobra.Command{
		Use:   "push <queue> <payload>",
		Short: "Push a JSON payload onto a queue",
		Long:  "Push a payload onto a queue. Payloads that are not valid JSON are pushed as JSON strings.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := r.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.app.Manager.Enqueue(cmd.Context(), connection, args[0], payloadArg(args[1])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pushed to %s\n", args[0])
			return nil
		},
	})

	queueCmd.AddCommand(&cobra.Command{
		Use:   "pop <queue>",
		Short: "Remove and print the next item of a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := r.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			payload, ok, err := s.app.Manager.DequeueOne(cmd.Context(), connection, args[0])
			if err != nil {
				return err
			}
			return printPayload(cmd.OutOrStdout(), payload, ok)
		},
	})

	queueCmd.AddCommand(&cobra.Command{
		Use:   "peek <queue>",
		Short: "Print the next item of a queue without removing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := r.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			payload, ok, err := s.app.Manager.Peek(cmd.Context(), connection, args[0])
			if err != nil {
				return err
			}
			return printPayload(cmd.OutOrStdout(), payload, ok)
		},
	})

	queueCmd.AddCommand(&cobra.Command{
		Use:   "depth <queue>",
		Short: "Print the number of items in a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := r.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			depth, err := s.app.Manager.QueueDepth(cmd.Context(), connection, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), depth)
			return nil
		},
	})

	var confirm bool
	truncateCmd := &cobra.Command{
		Use:   "truncate",
		Short: "Empty every queue of a connection, dead letters included",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return errors.New("truncate removes every item of the connection; pass --yes to confirm")
			}
			s, err := r.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.app.Manager.TruncateAll(cmd.Context(), connection); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "truncated %s\n", displayConnection(connection, s.app.Manager.DefaultConnection()))
			return nil
		},
	}
	truncateCmd.Flags().BoolVar(&confirm, "yes", false, "confirm truncation")
	queueCmd.AddCommand(truncateCmd)

	queueCmd.AddCommand(r.newDeadLetterCommand(&connection))
	return queueCmd
}

func (r *runner) newDeadLetterCommand(connection *string) *cobra.Command {
	deadLetterCmd := &cobra.Command{
		Use:   "deadletter",
		Short: "Inspect and redrive failed jobs",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print dead-letter records as JSON lines, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := r.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			records, err := s.app.Manager.DeadLetters(cmd.Context(), *connection, limit)
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			for _, record := range records {
				if err := encoder.Encode(record); err != nil {
					return fmt.Errorf("encode dead letter: %w", err)
				}
			}
			return nil
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 50, "maximum records to print (0 for all)")
	deadLetterCmd.AddCommand(listCmd)

	var maxRecords int
	redriveCmd := &cobra.Command{
		Use:   "redrive",
		Short: "Move dead-letter records back to their origin queues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := r.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			moved, err := s.app.Manager.Redrive(cmd.Context(), *connection, maxRecords)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "redrove %d\n", moved)
			return nil
		},
	}
	redriveCmd.Flags().IntVar(&maxRecords, "max", 0, "maximum records to move (0 for all)")
	deadLetterCmd.AddCommand(redriveCmd)

	return deadLetterCmd
}

// payloadArg keeps valid JSON as is and wraps anything else as a JSON string.
func payloadArg(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if json.Valid([]byte(trimmed)) {
		return queue.Payload(trimmed)
	}
	return raw
}

func printPayload(out io.Writer, payload queue.Payload, ok bool) error {
	if !ok {
		return errors.New("queue is empty")
	}
	_, err := fmt.Fprintln(out, string(payload))
	return err
}

func displayConnection(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
