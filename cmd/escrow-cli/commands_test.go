package main

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http/httptest"
	"strings"
	"testing"

	"escrowd/core"
	"escrowd/crypto"
	"escrowd/rpc"
	"escrowd/storage"
)

const cliTestToken = "cli-test-token"

func startDaemon(t *testing.T, alloc map[string]*big.Int) *httptest.Server {
	t.Helper()
	node, err := core.NewNode(storage.NewMemDB(), alloc, nil)
	if err != nil {
		t.Fatalf("node: %v", err)
	}
	ts := httptest.NewServer(rpc.NewServer(node, cliTestToken, 1000, 1000, nil))
	t.Cleanup(ts.Close)
	return ts
}

func newIdentity(t *testing.T) string {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	return key.PubKey().Address().String()
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args[0], args[1:], &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestKeygen(t *testing.T) {
	code, stdout, stderr := runCLI(t, "keygen")
	if code != 0 {
		t.Fatalf("keygen failed: %s", stderr)
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(out["address"], "esc1") {
		t.Fatalf("unexpected address %q", out["address"])
	}
	if len(out["privateKey"]) != 64 {
		t.Fatalf("unexpected key length %d", len(out["privateKey"]))
	}
}

func TestUnknownCommand(t *testing.T) {
	code, _, stderr := runCLI(t, "bogus")
	if code != 1 {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(stderr, "Unknown command") {
		t.Fatalf("missing usage hint: %s", stderr)
	}
}

func TestCreateRequiresFlags(t *testing.T) {
	code, _, stderr := runCLI(t, "create")
	if code != 1 {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(stderr, "--provider is required") {
		t.Fatalf("unexpected stderr: %s", stderr)
	}
}

func TestLifecycleThroughCLI(t *testing.T) {
	clientAddr := newIdentity(t)
	providerAddr := newIdentity(t)
	ts := startDaemon(t, map[string]*big.Int{clientAddr: big.NewInt(10_000_000)})

	code, stdout, stderr := runCLI(t,
		"create",
		"--rpc", ts.URL,
		"--token", cliTestToken,
		"--as", clientAddr,
		"--provider", providerAddr,
		"--amount", "2.5",
		"--description", "copy editing",
	)
	if code != 0 {
		t.Fatalf("create failed: %s", stderr)
	}
	var created map[string]string
	if err := json.Unmarshal([]byte(stdout), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id := created["id"]
	if id == "" {
		t.Fatalf("missing agreement id in %s", stdout)
	}

	code, stdout, stderr = runCLI(t, "status", "--rpc", ts.URL, "--id", id)
	if code != 0 {
		t.Fatalf("status failed: %s", stderr)
	}
	var status map[string]string
	if err := json.Unmarshal([]byte(stdout), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status["status"] != "PENDING" || status["amount"] != "2.5" {
		t.Fatalf("unexpected status view %v", status)
	}

	code, _, stderr = runCLI(t,
		"accept", "--rpc", ts.URL, "--token", cliTestToken, "--as", providerAddr, "--id", id)
	if code != 0 {
		t.Fatalf("accept failed: %s", stderr)
	}

	code, stdout, stderr = runCLI(t,
		"release", "--rpc", ts.URL, "--token", cliTestToken, "--as", clientAddr, "--id", id)
	if code != 0 {
		t.Fatalf("release failed: %s", stderr)
	}
	var released map[string]interface{}
	if err := json.Unmarshal([]byte(stdout), &released); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if released["Status"] != "COMPLETED" {
		t.Fatalf("expected COMPLETED, got %v", released["Status"])
	}

	code, stdout, stderr = runCLI(t, "list", "--rpc", ts.URL, "--as", clientAddr)
	if code != 0 {
		t.Fatalf("list failed: %s", stderr)
	}
	var listing []map[string]interface{}
	if err := json.Unmarshal([]byte(stdout), &listing); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listing) != 1 || listing[0]["ID"] != id || listing[0]["Status"] != "COMPLETED" {
		t.Fatalf("unexpected listing %v", listing)
	}

	code, stdout, stderr = runCLI(t, "balance", "--rpc", ts.URL, "--as", providerAddr)
	if code != 0 {
		t.Fatalf("balance failed: %s", stderr)
	}
	var balance map[string]interface{}
	if err := json.Unmarshal([]byte(stdout), &balance); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if balance["Balance"] != "2.5" {
		t.Fatalf("expected 2.5, got %v", balance["Balance"])
	}
}

func TestRefundThroughCLI(t *testing.T) {
	clientAddr := newIdentity(t)
	providerAddr := newIdentity(t)
	ts := startDaemon(t, map[string]*big.Int{clientAddr: big.NewInt(1_000_000)})

	code, stdout, stderr := runCLI(t,
		"create",
		"--rpc", ts.URL,
		"--token", cliTestToken,
		"--as", clientAddr,
		"--provider", providerAddr,
		"--amount", "1",
	)
	if code != 0 {
		t.Fatalf("create failed: %s", stderr)
	}
	var created map[string]string
	if err := json.Unmarshal([]byte(stdout), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	code, stdout, stderr = runCLI(t,
		"refund", "--rpc", ts.URL, "--token", cliTestToken, "--as", clientAddr, "--id", created["id"])
	if code != 0 {
		t.Fatalf("refund failed: %s", stderr)
	}
	var refunded map[string]interface{}
	if err := json.Unmarshal([]byte(stdout), &refunded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if refunded["Status"] != "REFUNDED" {
		t.Fatalf("expected REFUNDED, got %v", refunded["Status"])
	}
}
