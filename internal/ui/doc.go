// Package ui renders the recorder's progress as a terminal UI.
package ui
