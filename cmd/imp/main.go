package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/lilobooter/imp"
	"github.com/lilobooter/imp/instance"
	"github.com/lilobooter/imp/remote"
	"github.com/lilobooter/imp/shell"
)

const defaultAddr = "127.0.0.1:8264"

func main() {
	app := &cli.App{
		Name:  "imp",
		Usage: "wrap interactive command-line programs as long-lived, addressable services",
		Commands: []*cli.Command{
			serveCommand(),
			createCommand(),
			destroyCommand(),
			listCommand(),
			configCommand(),
			evalCommand(),
			shellCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func addrFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "addr",
		Usage: "Address of the imp server.",
		Value: defaultAddr,
	}
}

func clientFor(ctx *cli.Context) *remote.Client {
	return &remote.Client{BaseURL: "http://" + ctx.String("addr")}
}

func configFlag() *cli.StringSliceFlag {
	return &cli.StringSliceFlag{
		Name:  "config",
		Usage: "Instance setting as key=value. May be repeated.",
	}
}

func parseConfig(pairs []string) (map[string]string, error) {
	cfg := map[string]string{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("config %q is not key=value", pair)
		}
		cfg[key] = value
	}
	return cfg, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the imp server, hosting instances for remote callers.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen-addr",
				Usage: "The address for the HTTP server to listen on.",
				Value: defaultAddr,
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging.",
			},
		},
		Action: func(ctx *cli.Context) error {
			var logger *zap.Logger
			var err error
			if ctx.Bool("debug") {
				logger, err = zap.NewDevelopment()
			} else {
				logger, err = zap.NewProduction()
			}
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}

			sys := imp.New(instance.WithLogger(logger))
			defer sys.Close()

			server, err := remote.NewServer(sys.Registry(),
				remote.WithServerLogger(logger),
				remote.WithListenAddr(ctx.String("listen-addr")),
			)
			if err != nil {
				return fmt.Errorf("building server: %w", err)
			}
			return server.Run()
		},
	}
}

func createCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Create an instance wrapping the given command.",
		ArgsUsage: "[--] command [args...]",
		Flags: []cli.Flag{
			addrFlag(),
			configFlag(),
			&cli.StringFlag{
				Name:  "name",
				Usage: "Instance name. Defaults to the command's basename.",
			},
		},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() == 0 {
				return fmt.Errorf("no command given")
			}
			cfg, err := parseConfig(ctx.StringSlice("config"))
			if err != nil {
				return err
			}
			info, err := clientFor(ctx).Create(ctx.Context, remote.CreateRequest{
				Name:    ctx.String("name"),
				Command: ctx.Args().Slice(),
				Config:  cfg,
			})
			if err != nil {
				return err
			}
			fmt.Println(info.Name)
			return nil
		},
	}
}

func destroyCommand() *cli.Command {
	return &cli.Command{
		Name:      "destroy",
		Usage:     "Destroy an instance.",
		ArgsUsage: "name",
		Flags:     []cli.Flag{addrFlag()},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 1 {
				return fmt.Errorf("expected exactly one instance name")
			}
			return clientFor(ctx).Destroy(ctx.Context, ctx.Args().First())
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List live instances.",
		Flags: []cli.Flag{
			addrFlag(),
			&cli.StringFlag{
				Name:  "kind",
				Usage: "Only list instances of this kind.",
			},
		},
		Action: func(ctx *cli.Context) error {
			names, err := clientFor(ctx).List(ctx.Context, ctx.String("kind"))
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:      "config",
		Usage:     "Get or set instance settings. With no key, dumps everything.",
		ArgsUsage: "name [key [value]]",
		Flags:     []cli.Flag{addrFlag()},
		Action: func(ctx *cli.Context) error {
			args := ctx.Args().Slice()
			client := clientFor(ctx)
			switch len(args) {
			case 1:
				dump, err := client.ConfigDump(ctx.Context, args[0])
				if err != nil {
					return err
				}
				for _, key := range []string{"echo", "lock_missing", "pager", "timeout", "wait"} {
					fmt.Printf("%s=%s\n", key, dump[key])
				}
				return nil
			case 2:
				value, err := client.ConfigGet(ctx.Context, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Println(value)
				return nil
			case 3:
				return client.ConfigSet(ctx.Context, args[0], args[1], args[2])
			default:
				return fmt.Errorf("expected name, name key, or name key value")
			}
		},
	}
}

func evalCommand() *cli.Command {
	return &cli.Command{
		Name:      "eval",
		Usage:     "Evaluate command lines on an instance. With no lines, stdin is drained.",
		ArgsUsage: "name [line...]",
		Flags:     []cli.Flag{addrFlag()},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() < 1 {
				return fmt.Errorf("expected an instance name")
			}
			name := ctx.Args().First()
			lines := ctx.Args().Tail()
			if len(lines) == 0 {
				stdinLines, err := drainStdin()
				if err != nil {
					return err
				}
				lines = stdinLines
			}
			out, err := clientFor(ctx).Evaluate(ctx.Context, name, lines)
			if err != nil {
				return err
			}
			for _, line := range out {
				fmt.Println(line)
			}
			return nil
		},
	}
}

func drainStdin() ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

func shellCommand() *cli.Command {
	return &cli.Command{
		Name:      "shell",
		Usage:     "Create a local instance and run an interactive session on it. The instance is destroyed when the session ends.",
		ArgsUsage: "[--] command [args...]",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:  "name",
				Usage: "Instance name. Defaults to the command's basename.",
			},
			&cli.StringSliceFlag{
				Name:  "init",
				Usage: "Command line to run before the prompt. May be repeated.",
			},
		},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() == 0 {
				return fmt.Errorf("no command given")
			}
			cfg, err := parseConfig(ctx.StringSlice("config"))
			if err != nil {
				return err
			}

			logger := zap.NewNop()
			sys := imp.New(instance.WithLogger(logger))
			defer sys.Close()

			inst, err := sys.Create(context.Background(), ctx.String("name"), cfg, ctx.Args().Slice())
			if err != nil {
				return err
			}

			sh := &shell.Shell{Inst: inst, Log: logger.Sugar()}
			return sh.Run(context.Background(), ctx.StringSlice("init"))
		},
	}
}
