// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("samyanJR claimsync - offline-first claim record synchronization")
	fmt.Println("===============================================================")
	fmt.Println()
	fmt.Println("claimsync keeps a device-local cache and the central claim store")
	fmt.Println("eventually consistent, and drives the verification workflow")
	fmt.Println("(submitted -> in_review -> done/rejected) with optimistic local")
	fmt.Println("apply and rollback.")
	fmt.Println()
	fmt.Println("Library packages:")
	fmt.Println()
	fmt.Println("  claimsync/       engine: cache store, normalizer, merge,")
	fmt.Println("                   verification state machine, remote client,")
	fmt.Println("                   sync scheduler")
	fmt.Println("  internal/auth/   acting-admin context plumbing")
	fmt.Println()
	fmt.Println("Typical wiring:")
	fmt.Println()
	fmt.Println("  cache, _  := claimsync.NewSQLiteCache(db)")
	fmt.Println("  remote    := claimsync.NewPgRemoteStore(pool, \"\", \"\", nil, nil)")
	fmt.Println("  engine, _ := claimsync.NewEngine(cache, remote, claimsync.DefaultConfig(\"pengajuan\"), nil)")
	fmt.Println("  go engine.RunSync(ctx)")
}
