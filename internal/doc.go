// Package internal holds the packages behind the quill CLI.
//
// # Package Organization
//
//   - build: DependencyCache, TaskScheduler and the SiteBuilder that drives them
//   - watcher: polling ChangeDetector with optional fsnotify wake-ups
//   - reload: change classification and the ReloadCoordinator
//   - websocket: reload message format and the ReloadChannel
//   - server: development HTTP server with reload script injection
//   - renderer: layout-based page renderer
//   - services: assembly of the above for each CLI command
//   - config, logging, errors, metrics, version: shared infrastructure
//
// # Data Flow
//
// The ChangeDetector compares snapshots of the watched trees and hands
// batches of changes to the ReloadCoordinator. The coordinator classifies
// each path, invalidates dependents in the DependencyCache, asks the
// SiteBuilder for an incremental rebuild and broadcasts a reload message
// on the ReloadChannel.
package internal
