// import-substations loads substation boundaries from a GeoJSON
// FeatureCollection (for example an OSM export) into the entities table.
//
// Each feature becomes one substation entity:
//   - external_id from the "full_id", "@id" or "id" property
//   - name from the "name" property
//   - boundary from the feature geometry
//
// Features whose external_id already exists are skipped, so the import can be
// re-run against an updated export.
//
// Usage: go run ./scripts/import-substations [-dry-run=false] [-config config.yaml] <file.geojson>
//
// Database connection: the database section of config.yaml, overridden by PG* environment variables.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/paulmach/orb/geojson"

	"github.com/ekaya-inc/substation-labeler/pkg/config"
	"github.com/ekaya-inc/substation-labeler/pkg/database"
	"github.com/ekaya-inc/substation-labeler/pkg/logging"
	"github.com/ekaya-inc/substation-labeler/pkg/models"
	"github.com/ekaya-inc/substation-labeler/pkg/repositories"
)

// idProperties are checked in order for the external id.
var idProperties = []string{"full_id", "@id", "id"}

type substation struct {
	ExternalID string
	Name       string
	Boundary   models.Geometry
}

func main() {
	dryRun := flag.Bool("dry-run", true, "Show what would be imported without writing")
	configPath := flag.String("config", "config.yaml", "Path to config.yaml")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [-dry-run=false] [-config config.yaml] <file.geojson>\n", os.Args[0])
		os.Exit(1)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", args[0], err)
		os.Exit(1)
	}
	subs, skipped, err := decodeSubstations(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse %s: %v\n", args[0], err)
		os.Exit(1)
	}
	fmt.Printf("Parsed %d substations (%d features skipped)\n", len(subs), skipped)

	_ = godotenv.Load()
	cfg, err := config.LoadFile(*configPath, "import")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := database.NewConnection(ctx, database.ConfigFrom(&cfg.Database))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %s\n", logging.SanitizeError(err))
		os.Exit(1)
	}
	defer db.Close()

	scope, err := db.Acquire(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to acquire connection: %s\n", logging.SanitizeError(err))
		os.Exit(1)
	}
	defer scope.Close()
	ctx = database.SetScope(ctx, scope)

	existing, err := existingExternalIDs(ctx, scope, subs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to check existing substations: %v\n", err)
		os.Exit(1)
	}

	if *dryRun {
		fmt.Println("DRY RUN - no changes will be made")
		fmt.Println("Run with -dry-run=false to import")
		fmt.Println()
	}

	repo := repositories.NewEntityRepository()
	imported := 0
	for _, sub := range subs {
		if existing[sub.ExternalID] {
			fmt.Printf("  [skip] %s already imported\n", sub.ExternalID)
			continue
		}
		if *dryRun {
			fmt.Printf("  [new]  %s %q (%s)\n", sub.ExternalID, sub.Name, sub.Boundary.Kind())
			imported++
			continue
		}

		entity := &models.Entity{
			Kind:       models.EntityKindSubstation,
			ExternalID: &sub.ExternalID,
			Boundary:   sub.Boundary,
		}
		if sub.Name != "" {
			entity.Name = &sub.Name
		}
		if err := repo.Create(ctx, entity); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to import %s: %v\n", sub.ExternalID, err)
			os.Exit(1)
		}
		imported++
	}

	if *dryRun {
		fmt.Printf("\nSubstations that would be imported: %d\n", imported)
	} else {
		fmt.Printf("\nSubstations imported: %d\n", imported)
	}
}

// decodeSubstations reads polygon features with an id. Other features are
// counted as skipped.
func decodeSubstations(data []byte) ([]substation, int, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, 0, err
	}

	var subs []substation
	skipped := 0
	seen := make(map[string]bool)
	for _, f := range fc.Features {
		id := externalID(f.Properties)
		if id == "" || seen[id] || f.Geometry == nil {
			skipped++
			continue
		}
		switch f.Geometry.GeoJSONType() {
		case geojson.TypePolygon, geojson.TypeMultiPolygon:
		default:
			skipped++
			continue
		}
		boundary, err := models.NewGeometry(f.Geometry)
		if err != nil {
			skipped++
			continue
		}
		seen[id] = true
		subs = append(subs, substation{
			ExternalID: id,
			Name:       f.Properties.MustString("name", ""),
			Boundary:   boundary,
		})
	}
	return subs, skipped, nil
}

func externalID(props geojson.Properties) string {
	for _, key := range idProperties {
		switch v := props[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

func existingExternalIDs(ctx context.Context, scope *database.Scope, subs []substation) (map[string]bool, error) {
	ids := make([]string, 0, len(subs))
	for _, s := range subs {
		ids = append(ids, s.ExternalID)
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT external_id
		FROM entities
		WHERE kind = 'substation'
		  AND external_id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		existing[id] = true
	}
	return existing, rows.Err()
}
