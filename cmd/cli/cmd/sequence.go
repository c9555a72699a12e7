package cmd

import (
	"sellerpilot/pkg/api"

	"github.com/spf13/cobra"
)

var sequenceCmd = &cobra.Command{
	Use:     "sequence",
	Aliases: []string{"seq"},
	Short:   "Start, inspect and cancel follow-up sequences",
}

var sequenceStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a follow-up sequence in a conversation",
	Long: `Start a follow-up sequence. Each --message is one step, sent at most once per day
while the peer stays silent. The sequence stops on its own when the peer replies
or the conversation leaves the awaiting-reply state.`,
	Run: func(cmd *cobra.Command, args []string) {
		tenantID, _ := cmd.Flags().GetString("tenant")
		conversationID, _ := cmd.Flags().GetString("conversation")
		seqType, _ := cmd.Flags().GetString("type")
		messages, _ := cmd.Flags().GetStringArray("message")
		maxSteps, _ := cmd.Flags().GetInt("max-steps")

		if tenantID == "" || conversationID == "" {
			cmd.Println("--tenant and --conversation are required")
			return
		}
		if len(messages) == 0 {
			cmd.Println("at least one --message is required")
			return
		}

		client := newClient(cmd)
		if client == nil {
			return
		}

		seq, err := client.StartSequence(api.StartSequenceRequest{
			TenantID:       tenantID,
			ConversationID: conversationID,
			Type:           seqType,
			Messages:       messages,
			MaxSteps:       maxSteps,
		})
		if err != nil {
			cmd.Printf("Error: %s\n", err)
			return
		}

		cmd.Printf("✅ Sequence started!\nID: %s\nSteps: %d\n", seq.ID, seq.MaxSteps)
	},
}

var sequenceStatusCmd = &cobra.Command{
	Use:   "status [sequence_id]",
	Short: "Show a follow-up sequence",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		seq, err := client.GetSequence(args[0])
		if err != nil {
			cmd.Printf("Error: %s\n", err)
			return
		}

		printSequence(cmd, *seq)
	},
}

var sequenceCancelCmd = &cobra.Command{
	Use:   "cancel [sequence_id]",
	Short: "Cancel an active follow-up sequence",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newClient(cmd)
		if client == nil {
			return
		}

		seq, err := client.CancelSequence(args[0])
		if err != nil {
			cmd.Printf("Error: %s\n", err)
			return
		}

		cmd.Printf("🛑 Sequence %s cancelled at step %d/%d\n", seq.ID, seq.CurrentStep, seq.MaxSteps)
	},
}

func printSequence(cmd *cobra.Command, seq api.SequenceResponse) {
	cmd.Printf("%s %sSequence Details%s\n", statusIcon(seq.Status), colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sID:%s           %s\n", colorDim, colorReset, seq.ID)
	cmd.Printf("%sConversation:%s %s\n", colorDim, colorReset, seq.ConversationID)
	cmd.Printf("%sType:%s         %s\n", colorDim, colorReset, seq.Type)
	cmd.Printf("%sStatus:%s       %s\n", colorDim, colorReset, colorizeStatus(seq.Status))
	if seq.StopReason != nil {
		cmd.Printf("%sReason:%s       %s\n", colorDim, colorReset, *seq.StopReason)
	}
	cmd.Printf("%sStep:%s         %d/%d\n", colorDim, colorReset, seq.CurrentStep, seq.MaxSteps)
	cmd.Printf("%sStarted:%s      %s\n", colorDim, colorReset, formatTimeWithRelative(&seq.StartedAt))
	cmd.Printf("%sNext Run:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(seq.NextRunAt))
}

func init() {
	sequenceStartCmd.Flags().String("tenant", "", "Tenant ID (UUID)")
	sequenceStartCmd.Flags().String("conversation", "", "Conversation ID")
	sequenceStartCmd.Flags().String("type", "no_reply_nudge", "Sequence type (no_reply_nudge, review_request)")
	sequenceStartCmd.Flags().StringArray("message", nil, "Step message (repeatable, in order)")
	sequenceStartCmd.Flags().Int("max-steps", 0, "Steps to send before the terminal message (default: number of messages)")

	sequenceCmd.AddCommand(sequenceStartCmd)
	sequenceCmd.AddCommand(sequenceStatusCmd)
	sequenceCmd.AddCommand(sequenceCancelCmd)
	rootCmd.AddCommand(sequenceCmd)
}
