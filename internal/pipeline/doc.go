// Package pipeline defines the shared types and interfaces of the URL fetch pipeline.
package pipeline
