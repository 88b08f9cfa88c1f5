package main

import (
	"fmt"
	"os"
)

func usage() string {
	return `Usage: escrow-cli <command> [flags]

Commands:
  create   fund and register a new agreement
  accept   accept a pending agreement as its provider
  release  release custodied funds to the provider
  refund   refund custodied funds to the client
  status   print the status of an agreement
  list     list agreement identifiers for an identity
  balance  print the account balance of an identity
  keygen   generate a new identity key

Global flags (per command):
  --rpc    daemon JSON-RPC endpoint (default http://127.0.0.1:8645)
  --token  bearer token for mutating calls (or ESCROW_CLI_TOKEN)
  --as     bech32 identity to act as`
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage())
		os.Exit(1)
	}
	os.Exit(run(os.Args[1], os.Args[2:], os.Stdout, os.Stderr))
}
