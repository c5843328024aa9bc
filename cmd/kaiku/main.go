// Command kaiku runs and talks to the live-coding synthesis engine.
//
//	kaiku start [-c config.yml] [-l init.lua] [-backend oto|portaudio] [-midi]
//	kaiku repl  [-addr host:port]
//	kaiku send  [-addr host:port] <file.lua>
//
// start runs the engine and listens for snippets over UDP; repl is an
// interactive snippet prompt against a running engine; send ships a
// snippet file the same way.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/kaiku-audio/kaiku"
	"github.com/kaiku-audio/kaiku/control"
	"github.com/kaiku-audio/kaiku/engine"
	"github.com/kaiku-audio/kaiku/script"
	"github.com/kaiku-audio/kaiku/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case "start":
		err = cmdStart(os.Args[2:])
	case "repl":
		err = cmdRepl(os.Args[2:])
	case "send":
		err = cmdSend(os.Args[2:])
	case "version", "-v", "--version":
		fmt.Println(version.VersionOrHash)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `usage:
  kaiku start [-c config.yml] [-l init.lua] [-backend oto|portaudio] [-midi]
  kaiku repl  [-addr host:port]
  kaiku send  [-addr host:port] <file.lua>
`)
}

func cmdStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("c", "", "engine config file (YAML); defaults used when omitted")
	initScript := fs.String("l", "", "Lua snippet file evaluated on startup")
	backend := fs.String("backend", "oto", "audio backend: oto or portaudio")
	useMidi := fs.Bool("midi", false, "open the first available MIDI input")
	fs.Parse(args)

	cfg := kaiku.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = kaiku.LoadConfig(*configPath)
		if err != nil {
			return err
		}
	}

	eng := engine.New(cfg)
	vm := script.New(eng)
	defer vm.Close()

	var audio kaiku.AudioContext
	var err error
	switch *backend {
	case "oto":
		audio, err = newOtoContext(eng.SampleRate(), eng.Channels())
	case "portaudio":
		audio, err = newPortaudioContext()
	default:
		return fmt.Errorf("unknown backend %q", *backend)
	}
	if err != nil {
		return err
	}
	defer audio.Close()

	if *useMidi {
		mc := newMidiContext(eng)
		if err := mc.TryToOpenBy("", true); err != nil {
			log.Printf("midi input unavailable: %v", err)
		}
		defer mc.Close()
	}

	// the control server delivers snippets on its own goroutine; the
	// script VM is only ever touched from there after startup
	if *initScript != "" {
		if err := vm.DoFile(*initScript); err != nil {
			return fmt.Errorf("init script: %w", err)
		}
	}
	srv, err := control.Serve(cfg.ControlAddr, func(snippet string) {
		if err := vm.Do(snippet); err != nil {
			log.Printf("snippet error: %v", err)
		}
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	go eng.Run()
	defer eng.Close()
	if err := audio.Play(eng); err != nil {
		return err
	}

	log.Printf("kaiku %s listening on %s, %d Hz %dch via %s",
		version.VersionOrHash, srv.Addr(), eng.SampleRate(), eng.Channels(), *backend)
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Print("shutting down")
	return nil
}

func cmdRepl(args []string) error {
	fs := flag.NewFlagSet("repl", flag.ExitOnError)
	addr := fs.String("addr", kaiku.DefaultConfig().ControlAddr, "engine control address")
	fs.Parse(args)

	cli, err := control.Dial(*addr)
	if err != nil {
		return err
	}
	defer cli.Close()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		fmt.Printf("connected to %s; '..' starts a multi-line snippet, a lone '.' sends it, ctrl-d quits\n", *addr)
	}
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64<<10), 64<<10)
	var multi []string
	prompt := func() {
		if !interactive {
			return
		}
		if multi != nil {
			fmt.Print("... ")
		} else {
			fmt.Print(">> ")
		}
	}
	for prompt(); scanner.Scan(); prompt() {
		line := scanner.Text()
		switch {
		case multi == nil && strings.TrimSpace(line) == "..":
			multi = []string{}
		case multi != nil && strings.TrimSpace(line) == ".":
			if err := cli.Send(strings.Join(multi, "\n")); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
			multi = nil
		case multi != nil:
			multi = append(multi, line)
		case strings.TrimSpace(line) == "":
		default:
			if err := cli.Send(line); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		}
	}
	if interactive {
		fmt.Println()
	}
	return scanner.Err()
}

func cmdSend(args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	addr := fs.String("addr", kaiku.DefaultConfig().ControlAddr, "engine control address")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("send needs exactly one snippet file")
	}
	snippet, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	cli, err := control.Dial(*addr)
	if err != nil {
		return err
	}
	defer cli.Close()
	return cli.Send(string(snippet))
}
