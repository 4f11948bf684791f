package root

import "github.com/spf13/cobra"

// runtimeFlags binds the sandbox-image flags shared by run-eval.
type runtimeFlags struct {
	agentSandboxImage string
	reproSandboxImage string
}

func addRuntimeConfigFlags(cmd *cobra.Command, flags *runtimeFlags) {
	cmd.Flags().StringVar(&flags.agentSandboxImage, "agent-sandbox-image", "paperbench/agent:latest", "Docker image used to run the agent solver")
	cmd.Flags().StringVar(&flags.reproSandboxImage, "repro-sandbox-image", "paperbench/repro:latest", "Docker image used to run reproduce.sh")
}
