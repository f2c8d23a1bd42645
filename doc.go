/*
Package goop is a conversational agent engine with human review of risky actions.

A session alternates between a reasoning step, where a language model reads the
conversation and may propose actions, and an execution step, where the proposed
actions run against an action catalog. Actions marked as protected suspend the
session until a human approves, edits, rejects or comments on them.

# Concept

The workflow is an explicit state machine (reasoning, review, execute) whose
checkpoint is committed after every step. A suspended session survives process
restarts when a durable store is configured, and is resumed with a
ReviewResolution. Model output is exposed as a lazy sequence of events, so callers
can stream tokens while the engine runs.

# Usage

	package main

	import (
		"context"
		"fmt"
		"log"

		"github.com/aretw0/goop"
		"github.com/aretw0/goop/pkg/adapters/langchain"
		"github.com/aretw0/goop/pkg/registry"
		"github.com/aretw0/goop/pkg/domain"
	)

	func main() {
		llm, err := langchain.NewModel(langchain.Config{Provider: "openai", Model: "gpt-4o-mini"})
		if err != nil {
			log.Fatal(err)
		}

		actions := registry.NewRegistry()
		actions.Register(domain.ActionDescriptor{Name: "deleteFile"}, deleteFile)

		agent := goop.New(langchain.New(llm), actions, goop.WithProtectedActions("deleteFile"))

		ctx := context.Background()
		for frag, err := range agent.Chat(ctx, "session-123", "clean up /tmp/x") {
			if err != nil {
				log.Fatal(err)
			}
			fmt.Print(frag)
		}

		// deleteFile is protected, so the session is now suspended.
		for frag, err := range agent.Resume(ctx, "session-123", domain.Approve()) {
			...
		}
	}

# Architecture

  - pkg/domain: messages, checkpoints, review resolutions and the error taxonomy.
  - pkg/ports: model backend, action catalog, checkpoint store and locker contracts.
  - internal/runtime: the workflow engine.
  - pkg/adapters: langchaingo models, MCP catalogs and servers, HTTP, and stores (memory, file, SQLite, Redis).
*/
package goop
