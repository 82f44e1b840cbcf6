package cli

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/majorcontext/reef/internal/audit"
	"github.com/majorcontext/reef/internal/files"
	"github.com/majorcontext/reef/internal/ui"
)

func newFilesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Read, write and list files under ~/.openclaw on an instance",
		Long: `Access files inside an instance's ~/.openclaw directory. Paths must be
~/.openclaw or start with ~/.openclaw/ and may not contain "..".`,
	}
	cmd.AddCommand(newFilesReadCmd(a), newFilesWriteCmd(a), newFilesListCmd(a))
	return cmd
}

func (a *app) files(cmd *cobra.Command, instance string) (*files.Accessor, remoteTarget, error) {
	c, p, err := a.target(cmd.Context(), instance)
	if err != nil {
		return nil, remoteTarget{}, err
	}
	return files.New(c, a.cfg.Files.MaxReadBytes), remoteTarget{instance: instance, params: p}, nil
}

// remotePath undoes local tilde expansion and checks the result.
func remotePath(arg string) (string, error) {
	if home, err := os.UserHomeDir(); err == nil {
		arg = files.FromLocalHome(arg, home)
	}
	if err := files.CheckPath(arg); err != nil {
		return "", err
	}
	return arg, nil
}

func newFilesReadCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "read <instance> <path>",
		Short: "Print a file",
		Example: `  reef files read reef-a '~/.openclaw/openclaw.json'
  reef files read reef-a '~/.openclaw/agents/main/agent/auth-profiles.json' -o profiles.json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := remotePath(args[1])
			if err != nil {
				return err
			}
			acc, t, err := a.files(cmd, args[0])
			if err != nil {
				return err
			}
			data, err := acc.Read(cmd.Context(), t.params, path)
			if err != nil {
				return err
			}
			if output != "" {
				return os.WriteFile(output, data, 0o600)
			}
			_, err = ui.Stdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a local file instead of stdout")
	return cmd
}

func newFilesWriteCmd(a *app) *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "write <instance> <path>",
		Short: "Replace a file with local content (stdin by default)",
		Example: `  reef files write reef-a '~/.openclaw/openclaw.json' --from openclaw.json
  echo '{}' | reef files write reef-a '~/.openclaw/agents/hal/agent/state.json'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := remotePath(args[1])
			if err != nil {
				return err
			}
			var src io.Reader = os.Stdin
			if from != "" {
				f, err := os.Open(from)
				if err != nil {
					return err
				}
				defer f.Close()
				src = f
			}
			acc, t, err := a.files(cmd, args[0])
			if err != nil {
				return err
			}
			// One byte past the ceiling is enough to reject the write.
			content, err := io.ReadAll(io.LimitReader(src, acc.MaxBytes()+1))
			if err != nil {
				return fmt.Errorf("reading content: %w", err)
			}

			sum := sha256.Sum256(content)
			entry := audit.FileWriteData{
				Instance: t.instance,
				Path:     path,
				Bytes:    len(content),
				SHA256:   hex.EncodeToString(sum[:]),
			}
			werr := acc.Write(cmd.Context(), t.params, path, content)
			if werr != nil {
				entry.Error = werr.Error()
			}
			a.journal(audit.EntryFileWrite, entry)
			if werr != nil {
				return werr
			}
			return a.emit(entry, func() error {
				ui.Outcome(true, fmt.Sprintf("wrote %d bytes to %s on %s", len(content), path, t.instance), "")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "local file to upload")
	return cmd
}

func newFilesListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls <instance> [path]",
		Short: "List a directory (default ~/.openclaw)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			arg := files.Root
			if len(args) == 2 {
				arg = args[1]
			}
			path, err := remotePath(arg)
			if err != nil {
				return err
			}
			acc, t, err := a.files(cmd, args[0])
			if err != nil {
				return err
			}
			entries, err := acc.List(cmd.Context(), t.params, path)
			if err != nil {
				return err
			}
			return a.emit(entries, func() error {
				for _, e := range entries {
					name := e.Name
					if e.Type == "directory" {
						name = ui.Bold(name + "/")
					}
					fmt.Fprintln(ui.Stdout(), name)
				}
				return nil
			})
		},
	}
}
