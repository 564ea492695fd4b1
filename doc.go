// Package aletheia provides a retrieval-augmented conversational gateway
// over a personal Markdown knowledge corpus.
//
// Aletheia ingests a directory of Markdown documents into a vector store
// and a knowledge graph, then answers natural-language questions by
// retrieving relevant passages (dense vector search, keyword search, a
// weighted vector/keyword hybrid, or graph traversal), reranking the candidates,
// and streaming a grounded response from a large language model.
//
// # Quick Start
//
// Install the CLI:
//
//	go install github.com/aletheia-kb/aletheia/cmd/aletheia@latest
//
// Ingest a knowledge base and start the server:
//
//	aletheia ingest --corpus ./knowledgebase
//	aletheia serve --addr :8080
//
// # Using as a Go library
//
//	import (
//	    "github.com/aletheia-kb/aletheia/pkg/ingest"
//	    "github.com/aletheia-kb/aletheia/pkg/retrieval"
//	    "github.com/aletheia-kb/aletheia/pkg/chat"
//	)
//
// # Architecture
//
//	Markdown files → parser → chunker → embedder ─┬─→ vector store
//	                                               └─→ graph builder → graph store
//
//	Client → chat orchestrator → intent classifier → retrieval engine
//	         (↔ cache, embedder, vector store, graph store, reranker)
//	         → prompt builder → LLM client (streaming) → client
//
// # License
//
// Apache-2.0 - See LICENSE for details.
package aletheia
