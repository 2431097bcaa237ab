package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func (r *runner) newJobsCommand() *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "List and dispatch registered jobs",
	}

	jobsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered jobs and the queues they run on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := r.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "JOB\tCONNECTION\tQUEUE")
			for _, binding := range s.app.Registry.Bindings() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", binding.Name, displayConnection(binding.Connection, s.app.Manager.DefaultConnection()), binding.Queue)
			}
			return w.Flush()
		},
	})

	jobsCmd.AddCommand(&cobra.Command{
		Use:   "dispatch <job> <payload>",
		Short: "Enqueue a JSON payload for a registered job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := r.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.app.Dispatcher.Dispatch(cmd.Context(), args[0], payloadArg(args[1])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dispatched %s\n", args[0])
			return nil
		},
	})

	return jobsCmd
}
