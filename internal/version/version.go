// ABOUTME: Version constants for the gateway client
// ABOUTME: Single source of truth for product identification
package version

const (
	// Product is the human-readable client name.
	Product = "Discord Gateway Client"

	// Name is the machine identifier used in logs and instance IDs.
	Name = "discordgw"

	// Version is the client software version.
	Version = "0.1.0"
)
