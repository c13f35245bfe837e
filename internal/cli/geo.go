package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/akua-anchor/pkg/bsv"
	"github.com/angelmondragon/akua-anchor/pkg/canonical"
)

// GeoTag is the location attestation embedded by the geo command.
type GeoTag struct {
	DeviceID  string
	PackageID string
	Lat       float64
	Lon       float64
	Alt       *float64
	Timestamp time.Time
	Telemetry map[string]any
}

// Payload returns the tag as a JSON object ready for canonicalization.
// Optional fields are omitted when unset.
func (g GeoTag) Payload() (map[string]any, error) {
	if strings.TrimSpace(g.DeviceID) == "" {
		return nil, errors.New("device id is required")
	}
	if math.IsNaN(g.Lat) || g.Lat < -90 || g.Lat > 90 {
		return nil, fmt.Errorf("latitude %v out of range", g.Lat)
	}
	if math.IsNaN(g.Lon) || g.Lon < -180 || g.Lon > 180 {
		return nil, fmt.Errorf("longitude %v out of range", g.Lon)
	}

	location := map[string]any{"lat": g.Lat, "lon": g.Lon}
	if g.Alt != nil {
		location["alt"] = *g.Alt
	}
	payload := map[string]any{
		"type":      "geotag",
		"deviceId":  g.DeviceID,
		"location":  location,
		"timestamp": g.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if g.PackageID != "" {
		payload["packageId"] = g.PackageID
	}
	if len(g.Telemetry) > 0 {
		payload["telemetry"] = g.Telemetry
	}
	return payload, nil
}

func newGeoCommand(app *App) *cobra.Command {
	var (
		tag       GeoTag
		alt       float64
		timestamp string
		telemetry string
		opts      anchorOptions
	)
	cmd := &cobra.Command{
		Use:   "geo",
		Short: "Anchor a canonical geotag payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("alt") {
				tag.Alt = &alt
			}
			tag.Timestamp = time.Now()
			if timestamp != "" {
				ts, err := time.Parse(time.RFC3339, timestamp)
				if err != nil {
					return fmt.Errorf("--timestamp: %w", err)
				}
				tag.Timestamp = ts
			}
			if telemetry != "" {
				if err := json.Unmarshal([]byte(telemetry), &tag.Telemetry); err != nil {
					return fmt.Errorf("--telemetry must be a JSON object: %w", err)
				}
			}

			payload, err := tag.Payload()
			if err != nil {
				return err
			}
			canonicalJSON, err := canonical.CanonicalJSON(payload)
			if err != nil {
				return err
			}
			out, err := bsv.BuildDataCarrierOutput([]byte(bsv.AnchorPrefix), []byte(canonicalJSON))
			if err != nil {
				return err
			}

			res, err := app.anchor(cmd.Context(), out, opts)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			printf(w, "Anchor hash: %s\n", canonical.HashCanonical(canonicalJSON))
			printf(w, "Payload: %s\n", canonicalJSON)
			printf(w, "Data bytes: %d\n", len(bsv.AnchorPrefix)+len(canonicalJSON))
			printAnchor(w, res, opts.broadcast)
			return nil
		},
	}
	cmd.Flags().StringVar(&tag.DeviceID, "device-id", "", "device identifier")
	cmd.Flags().StringVar(&tag.PackageID, "package-id", "", "package identifier")
	cmd.Flags().Float64Var(&tag.Lat, "lat", math.NaN(), "latitude in degrees")
	cmd.Flags().Float64Var(&tag.Lon, "lon", math.NaN(), "longitude in degrees")
	cmd.Flags().Float64Var(&alt, "alt", 0, "altitude in metres")
	cmd.Flags().StringVar(&timestamp, "timestamp", "", "RFC 3339 observation time (defaults to now)")
	cmd.Flags().StringVar(&telemetry, "telemetry", "", "JSON object of extra readings")
	_ = cmd.MarkFlagRequired("device-id")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	opts.bind(cmd)
	return cmd
}
