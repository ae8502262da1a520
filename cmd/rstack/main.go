package main

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/remotestack/remotestack/pkg/config"
	"github.com/remotestack/remotestack/pkg/logflags"
	"github.com/remotestack/remotestack/pkg/unwind"
	"github.com/remotestack/remotestack/pkg/unwind/libunwind"
)

const version string = "0.3.1"

const defaultMaxFrames = 128

var (
	logFlag   bool
	logOutput string
	extraReg  int
)

var conf *config.Config

func main() {
	// Main rstack root command.
	rootCommand := &cobra.Command{
		Use:   "rstack",
		Short: "rstack prints the native call stack of a running process.",
	}
	rootCommand.PersistentFlags().BoolVarP(&logFlag, "log", "", false, "Enable debug logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", "Comma separated list of components that should produce debug output (unwind,binding).")

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("rstack version: " + version)
		},
	}
	rootCommand.AddCommand(versionCommand)

	// 'dump' subcommand.
	dumpCommand := &cobra.Command{
		Use:   "dump <pid>",
		Short: "Prints the current call stack of the given process.",
		Long: `Attaches to the process with the given pid, walks its call stack frame by
frame and prints one line per frame with the instruction pointer and the
name of the function owning the frame. The process is stopped only for the
duration of the walk and resumed before rstack exits.`,
		Args: cobra.ExactArgs(1),
		RunE: dumpCmd,
	}
	dumpCommand.Flags().IntVarP(&extraReg, "reg", "r", -1, "Additionally print the register with this libunwind number for every frame.")
	rootCommand.AddCommand(dumpCommand)

	conf = config.LoadConfig()

	if err := rootCommand.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func dumpCmd(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	pid, err := strconv.Atoi(args[0])
	if err != nil {
		cmd.SilenceUsage = false
		return fmt.Errorf("invalid pid %q", args[0])
	}
	if err := logflags.Setup(logFlag, logOutput); err != nil {
		return err
	}

	lib, err := libunwind.Load()
	if err != nil {
		return err
	}
	sess, err := unwind.New(lib, sessionOptions(conf)...)
	if err != nil {
		return err
	}
	defer sess.Close()

	// ptrace attachments are bound to the attaching thread; keep attach,
	// unwind and detach on the same one.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := unwind.Attach(pid); err != nil {
		return err
	}
	defer func() {
		if err := unwind.Detach(pid); err != nil {
			fmt.Fprintf(os.Stderr, "could not detach from %d: %v\n", pid, err)
		}
	}()

	cursor, err := sess.Cursor(pid)
	if err != nil {
		return err
	}
	defer cursor.Close()

	return printStack(cursor, maxFrames(conf))
}

func printStack(cursor *unwind.Cursor, maxFrames int) error {
	frame := 0
	for cursor.Next() {
		if frame >= maxFrames {
			fmt.Printf("... truncated at %d frames\n", maxFrames)
			break
		}
		name, err := cursor.ProcedureName()
		if err != nil {
			name = "?"
		}
		if extraReg >= 0 {
			if val, err := cursor.Register(extraReg); err == nil {
				fmt.Printf("%-3d %#016x %#016x %s\n", frame, cursor.PC(), val, name)
				frame++
				continue
			}
		}
		fmt.Printf("%-3d %#016x %s\n", frame, cursor.PC(), name)
		frame++
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("stack walk ended early: %w", err)
	}
	return nil
}

func sessionOptions(conf *config.Config) []unwind.Option {
	var opts []unwind.Option
	switch conf.CachingPolicy {
	case "none":
		opts = append(opts, unwind.WithCachingPolicy(unwind.CacheNone))
	case "global":
		opts = append(opts, unwind.WithCachingPolicy(unwind.CacheGlobal))
	}
	if conf.NameCacheSize != nil {
		opts = append(opts, unwind.WithNameCacheSize(*conf.NameCacheSize))
	}
	return opts
}

func maxFrames(conf *config.Config) int {
	if conf.MaxFrames != nil && *conf.MaxFrames > 0 {
		return *conf.MaxFrames
	}
	return defaultMaxFrames
}
