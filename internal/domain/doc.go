// Package domain holds the failure taxonomy shared by the print pipeline.
// Keep this package free of transport (HTTP) and infrastructure (Chrome/CUPS) concerns.
package domain
