package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/spf13/cobra"

	insterrors "github.com/installforge/core/internal/errors"
	"github.com/installforge/core/internal/operation"
)

// rpcRequest is one line of the elevated-filesystem RPC protocol
// (spec.md §6.3's "--startserver PORT KEY → serve the elevated-filesystem
// RPC (internal)"): a single operation kind plus its arguments, run with
// whatever privilege this process itself holds. No concrete OS-level
// elevation mechanism ships here — spec.md §1 marks administrative-
// elevation IPC as an external collaborator — but a deployment's
// elevate.Backend is exactly the thing meant to dial this listener after
// launching this process with the actual elevated token.
type rpcRequest struct {
	Key       string   `json:"key"`
	Kind      string   `json:"kind"`
	Arguments []string `json:"arguments"`
	Undo      bool     `json:"undo"`
}

type rpcResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// runStartServer implements --startserver PORT KEY: listen on loopback
// port, authenticating every request against key before running the
// operation it requests.
func runStartServer(cmd *cobra.Command, port, key string) error {
	ln, err := net.Listen("tcp", "127.0.0.1:"+port)
	if err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "listen for elevated-filesystem RPC", err)
	}
	defer ln.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "elevated-filesystem RPC listening on 127.0.0.1:%s\n", port)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	reg := operation.NewRegistry()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return insterrors.Wrap(insterrors.CategoryIO, "", "accept elevated-filesystem RPC connection", err)
		}
		go serveConn(ctx, conn, key, reg)
	}
}

func serveConn(ctx context.Context, conn net.Conn, key string, reg *operation.Registry) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		var req rpcRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			_ = enc.Encode(rpcResponse{Error: "malformed request"})
			continue
		}
		if req.Key != key {
			_ = enc.Encode(rpcResponse{Error: "unauthorized"})
			continue
		}
		_ = enc.Encode(handleRPCOperation(ctx, reg, req))
	}
}

func handleRPCOperation(ctx context.Context, reg *operation.Registry, req rpcRequest) rpcResponse {
	inst, err := reg.Create(req.Kind)
	if err != nil {
		return rpcResponse{Error: err.Error()}
	}
	inst.Value().Arguments = req.Arguments

	oc := operation.NewContext()
	if req.Undo {
		if err := inst.Undo(ctx, oc); err != nil {
			return rpcResponse{Error: err.Error()}
		}
		return rpcResponse{OK: true}
	}
	if err := inst.Backup(ctx, oc); err != nil {
		return rpcResponse{Error: err.Error()}
	}
	if err := inst.Perform(ctx, oc); err != nil {
		return rpcResponse{Error: err.Error()}
	}
	return rpcResponse{OK: true}
}
