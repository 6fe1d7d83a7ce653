// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graphfuse rewrites dataflow graphs by finding known subgraph patterns and replacing
// them with fused operations.
//
// # Architecture
//
// The module is organized into several packages:
//
//   - graph: the dataflow graph (nodes, shape inference, topological order, node replacement)
//   - pattern: pattern trees and the backtracking matcher finding them in a graph
//   - fusion: the fusion passes and the manager running them
//   - graphio: YAML serialization of graphs
//   - cmd/fusegraph: command line tool applying the passes to YAML graphs
//
// # Usage
//
//	g, err := graphio.ReadFile("model.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	m, err := fusion.NewManager(fusion.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	report, err := m.Run(g)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(report.Rewrites(), "nodes fused")
//	fmt.Print(g)
//
// # Passes
//
//   - rnn-mat: computes the matrix products of all time steps of an unrolled recurrent layer
//     at once
//   - batch-dot: turns concatenated per-batch matrix products into one BatchDot
//   - sigmoid-multiply: turns the product of two Sigmoid/Tanh activations into a SigmoidMultiply
//
// Passes are single threaded and a graph must not be shared between goroutines while they run.
package graphfuse
