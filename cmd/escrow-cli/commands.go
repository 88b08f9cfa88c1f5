package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"escrowd/client"
	"escrowd/crypto"
)

const tokenEnv = "ESCROW_CLI_TOKEN"

const defaultRPCURL = "http://127.0.0.1:8645"

// newTransport is swapped out by tests.
var newTransport = func(rpcURL, token string) client.Transport {
	return client.NewRPCTransport(rpcURL, token)
}

func run(command string, args []string, stdout, stderr io.Writer) int {
	switch command {
	case "create":
		return runCreate(args, stdout, stderr)
	case "accept":
		return runTransition(args, stdout, stderr, "accept")
	case "release":
		return runTransition(args, stdout, stderr, "release")
	case "refund":
		return runTransition(args, stdout, stderr, "refund")
	case "status":
		return runStatus(args, stdout, stderr)
	case "list":
		return runList(args, stdout, stderr)
	case "balance":
		return runBalance(args, stdout, stderr)
	case "keygen":
		return runKeygen(args, stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

type commonFlags struct {
	rpcURL   string
	token    string
	identity string
}

func newFlagSet(name string, stderr io.Writer, common *commonFlags) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&common.rpcURL, "rpc", defaultRPCURL, "daemon JSON-RPC endpoint")
	fs.StringVar(&common.token, "token", "", "bearer token for mutating calls")
	fs.StringVar(&common.identity, "as", "", "bech32 identity to act as")
	return fs
}

func (c *commonFlags) newClient() (*client.Client, error) {
	token := strings.TrimSpace(c.token)
	if token == "" {
		token = strings.TrimSpace(os.Getenv(tokenEnv))
	}
	return client.New(newTransport(c.rpcURL, token), c.identity, nil)
}

func callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 15*time.Second)
}

func printError(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

func printJSON(stdout io.Writer, v interface{}) int {
	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return 1
	}
	return 0
}

func runCreate(args []string, stdout, stderr io.Writer) int {
	common := &commonFlags{}
	fs := newFlagSet("escrow-cli create", stderr, common)
	var (
		provider    string
		amount      string
		description string
	)
	fs.StringVar(&provider, "provider", "", "provider bech32 address")
	fs.StringVar(&amount, "amount", "", "agreement amount in tokens, e.g. 12.5")
	fs.StringVar(&description, "description", "", "optional free-form description")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if provider == "" {
		fmt.Fprintln(stderr, "Error: --provider is required")
		return 1
	}
	if amount == "" {
		fmt.Fprintln(stderr, "Error: --amount is required")
		return 1
	}

	c, err := common.newClient()
	if err != nil {
		return printError(stderr, err)
	}
	ctx, cancel := callContext()
	defer cancel()
	conf, err := c.CreateAgreement(ctx, provider, amount, description)
	if err != nil {
		return printError(stderr, err)
	}
	return printJSON(stdout, map[string]string{
		"id":       conf.AgreementID,
		"handle":   conf.Handle,
		"provider": conf.Provider,
		"amount":   conf.Amount,
		"status":   "PENDING",
	})
}

func runTransition(args []string, stdout, stderr io.Writer, verb string) int {
	common := &commonFlags{}
	fs := newFlagSet("escrow-cli "+verb, stderr, common)
	var id string
	fs.StringVar(&id, "id", "", "agreement identifier")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if id == "" {
		fmt.Fprintln(stderr, "Error: --id is required")
		return 1
	}

	c, err := common.newClient()
	if err != nil {
		return printError(stderr, err)
	}
	ctx, cancel := callContext()
	defer cancel()

	var agr *client.Agreement
	switch verb {
	case "accept":
		agr, err = c.Accept(ctx, id)
	case "release":
		agr, err = c.Release(ctx, id)
	case "refund":
		agr, err = c.Refund(ctx, id)
	}
	if err != nil {
		return printError(stderr, err)
	}
	return printJSON(stdout, agr)
}

func runStatus(args []string, stdout, stderr io.Writer) int {
	common := &commonFlags{}
	fs := newFlagSet("escrow-cli status", stderr, common)
	var id string
	fs.StringVar(&id, "id", "", "agreement identifier")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if id == "" {
		fmt.Fprintln(stderr, "Error: --id is required")
		return 1
	}
	if common.identity == "" {
		// status is read-only and needs no acting identity; any placeholder
		// satisfies the client constructor.
		common.identity = "-"
	}

	c, err := common.newClient()
	if err != nil {
		return printError(stderr, err)
	}
	ctx, cancel := callContext()
	defer cancel()
	agr, err := c.Get(ctx, id)
	if err != nil {
		return printError(stderr, err)
	}
	return printJSON(stdout, map[string]string{
		"id":     agr.ID,
		"status": agr.Status,
		"amount": agr.Amount,
	})
}

func runList(args []string, stdout, stderr io.Writer) int {
	common := &commonFlags{}
	fs := newFlagSet("escrow-cli list", stderr, common)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if common.identity == "" {
		fmt.Fprintln(stderr, "Error: --as is required")
		return 1
	}

	c, err := common.newClient()
	if err != nil {
		return printError(stderr, err)
	}
	ctx, cancel := callContext()
	defer cancel()
	agreements, err := c.ListAgreements(ctx)
	if err != nil {
		return printError(stderr, err)
	}
	return printJSON(stdout, agreements)
}

func runBalance(args []string, stdout, stderr io.Writer) int {
	common := &commonFlags{}
	fs := newFlagSet("escrow-cli balance", stderr, common)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if common.identity == "" {
		fmt.Fprintln(stderr, "Error: --as is required")
		return 1
	}

	c, err := common.newClient()
	if err != nil {
		return printError(stderr, err)
	}
	ctx, cancel := callContext()
	defer cancel()
	balance, err := c.GetBalance(ctx)
	if err != nil {
		return printError(stderr, err)
	}
	return printJSON(stdout, balance)
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("escrow-cli keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, err)
	}
	return printJSON(stdout, map[string]string{
		"address":    key.PubKey().Address().String(),
		"privateKey": hex.EncodeToString(key.Bytes()),
	})
}
