package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hengadev/capsule"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	command := os.Args[1]
	switch command {
	case "keygen":
		err = keygenCommand(os.Args[2:])
	case "seal":
		err = sealCommand(ctx, os.Args[2:])
	case "grant":
		err = grantCommand(ctx, os.Args[2:])
	case "access":
		err = accessCommand(ctx, os.Args[2:])
	case "version":
		fmt.Println(capsule.VersionInfo())
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", command, err)
		if code := capsule.CodeOf(err); code != capsule.CodeInternal {
			fmt.Fprintf(os.Stderr, "code: %s\n", code)
		}
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [options]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nCommands:\n")
	fmt.Fprintf(os.Stderr, "  keygen    Generate an RSA key pair for the authority or an authorizer\n")
	fmt.Fprintf(os.Stderr, "  seal      Encrypt, sign and store a report\n")
	fmt.Fprintf(os.Stderr, "  grant     Issue a signed access claim\n")
	fmt.Fprintf(os.Stderr, "  access    Present a claim and print what it grants\n")
	fmt.Fprintf(os.Stderr, "  version   Show version information\n")
	fmt.Fprintf(os.Stderr, "\nRun '%s <command> -h' for help on a specific command.\n", os.Args[0])
}
