package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/foxxcyber/cart-reconcile/internal/config"
	"github.com/foxxcyber/cart-reconcile/internal/database"
	"github.com/foxxcyber/cart-reconcile/internal/middleware"
	"github.com/foxxcyber/cart-reconcile/internal/models"
)

var seedColumns = []string{"driver_id", "order_id", "store_id", "delivery_status", "item_name", "quantity", "price"}

// seedRow is one order line from the CSV
type seedRow struct {
	DriverID int
	OrderID  int
	StoreID  int
	Status   string
	ItemName string
	Quantity float64
	Price    *float64
}

// seedOrder groups the rows of one order
type seedOrder struct {
	ID       int
	DriverID int
	StoreID  int
	Status   string
	Lines    []seedRow
}

func main() {
	localFile := flag.String("file", "", "CSV file with columns "+strings.Join(seedColumns, ","))
	dryRun := flag.Bool("dry-run", false, "Preview changes without writing to database")
	printTokens := flag.Bool("tokens", false, "Print a development JWT for every driver in the file")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()
	log := config.SetupLogger(cfg)

	if *localFile == "" {
		log.Fatal().Msg("-file is required")
	}

	file, err := os.Open(*localFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open CSV file")
	}
	defer file.Close()

	rows, err := parseSeedRows(file)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse CSV")
	}
	orders := groupOrders(rows)
	log.Info().Int("rows", len(rows)).Int("orders", len(orders)).Msg("parsed seed file")

	if *printTokens {
		for _, id := range driverIDs(orders) {
			tok, err := middleware.IssueToken(cfg.JWTSecret, id, models.RoleDelivery, cfg.JWTExpiry)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to sign token")
			}
			fmt.Printf("driver %d: %s\n", id, tok)
		}
	}

	if *dryRun {
		for _, o := range orders {
			log.Info().Int("order_id", o.ID).Int("driver_id", o.DriverID).Str("status", o.Status).
				Int("items", len(o.Lines)).Msg("would import order")
		}
		return
	}

	if err := seed(cfg.DatabaseURL, orders, log); err != nil {
		log.Fatal().Err(err).Msg("import failed")
	}
	log.Info().Int("orders", len(orders)).Msg("import complete")
}

func seed(databaseURL string, orders []seedOrder, log zerolog.Logger) error {
	db, err := database.Connect(databaseURL, log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := database.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return importOrders(ctx, db, orders, log)
}

// parseSeedRows reads the CSV. The header row must list seedColumns in order.
func parseSeedRows(r io.Reader) ([]seedRow, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) != len(seedColumns) {
		return nil, fmt.Errorf("expected %d columns, got %d", len(seedColumns), len(header))
	}
	for i, col := range seedColumns {
		if !strings.EqualFold(strings.TrimSpace(header[i]), col) {
			return nil, fmt.Errorf("column %d: expected %q, got %q", i+1, col, header[i])
		}
	}

	var rows []seedRow
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		row, err := parseSeedRecord(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseSeedRecord(record []string) (seedRow, error) {
	var row seedRow
	var err error

	if row.DriverID, err = strconv.Atoi(strings.TrimSpace(record[0])); err != nil || row.DriverID <= 0 {
		return row, fmt.Errorf("invalid driver_id %q", record[0])
	}
	if row.OrderID, err = strconv.Atoi(strings.TrimSpace(record[1])); err != nil || row.OrderID <= 0 {
		return row, fmt.Errorf("invalid order_id %q", record[1])
	}
	if row.StoreID, err = strconv.Atoi(strings.TrimSpace(record[2])); err != nil || row.StoreID <= 0 {
		return row, fmt.Errorf("invalid store_id %q", record[2])
	}

	row.Status = strings.ToLower(strings.TrimSpace(record[3]))
	if row.Status == "" {
		row.Status = string(models.DeliveryStatusInProgress)
	}

	row.ItemName = strings.TrimSpace(record[4])
	if row.ItemName == "" {
		return row, errors.New("item_name is empty")
	}

	row.Quantity, err = strconv.ParseFloat(strings.TrimSpace(record[5]), 64)
	if err != nil || row.Quantity <= 0 {
		return row, fmt.Errorf("invalid quantity %q", record[5])
	}

	if p := strings.TrimSpace(record[6]); p != "" {
		price, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return row, fmt.Errorf("invalid price %q", record[6])
		}
		row.Price = &price
	}
	return row, nil
}

// groupOrders folds rows into orders, first appearance wins for order fields.
// Repeated items within an order add up.
func groupOrders(rows []seedRow) []seedOrder {
	var orders []seedOrder
	index := make(map[int]int)

	for _, r := range rows {
		i, ok := index[r.OrderID]
		if !ok {
			i = len(orders)
			index[r.OrderID] = i
			orders = append(orders, seedOrder{ID: r.OrderID, DriverID: r.DriverID, StoreID: r.StoreID, Status: r.Status})
		}

		merged := false
		for j := range orders[i].Lines {
			if strings.EqualFold(orders[i].Lines[j].ItemName, r.ItemName) {
				orders[i].Lines[j].Quantity += r.Quantity
				merged = true
				break
			}
		}
		if !merged {
			orders[i].Lines = append(orders[i].Lines, r)
		}
	}
	return orders
}

func driverIDs(orders []seedOrder) []int {
	seen := make(map[int]bool)
	var ids []int
	for _, o := range orders {
		if !seen[o.DriverID] {
			seen[o.DriverID] = true
			ids = append(ids, o.DriverID)
		}
	}
	sort.Ints(ids)
	return ids
}

// importOrders upserts stores, items, orders, deliveries and order items in
// one transaction using two batches
func importOrders(ctx context.Context, db *database.DB, orders []seedOrder, log zerolog.Logger) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	itemIDs := make(map[string]int)
	stores := make(map[int]bool)
	first := &pgx.Batch{}

	for _, o := range orders {
		if !stores[o.StoreID] {
			stores[o.StoreID] = true
			first.Queue(`
				INSERT INTO stores (id, name) VALUES ($1, $2)
				ON CONFLICT (id) DO NOTHING
			`, o.StoreID, fmt.Sprintf("Store %d", o.StoreID))
		}

		for _, ln := range o.Lines {
			name := ln.ItemName
			if _, ok := itemIDs[name]; ok {
				continue
			}
			itemIDs[name] = 0
			first.Queue(`
				INSERT INTO items (name) VALUES ($1)
				ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
				RETURNING id
			`, name).QueryRow(func(row pgx.Row) error {
				var id int
				if err := row.Scan(&id); err != nil {
					return fmt.Errorf("item %q: %w", name, err)
				}
				itemIDs[name] = id
				return nil
			})
		}

		first.Queue(`
			INSERT INTO orders (id, store_id, status) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET store_id = EXCLUDED.store_id, status = EXCLUDED.status, updated_at = NOW()
		`, o.ID, o.StoreID, o.Status)
		first.Queue(`
			INSERT INTO deliveries (order_id, delivery_person_id, status) VALUES ($1, $2, $3)
			ON CONFLICT (order_id) DO UPDATE
			SET delivery_person_id = EXCLUDED.delivery_person_id, status = EXCLUDED.status
		`, o.ID, o.DriverID, o.Status)
	}
	first.Queue(`SELECT setval(pg_get_serial_sequence('orders', 'id'), (SELECT MAX(id) FROM orders))`)
	first.Queue(`SELECT setval(pg_get_serial_sequence('stores', 'id'), (SELECT MAX(id) FROM stores))`)

	if err := tx.SendBatch(ctx, first).Close(); err != nil {
		return fmt.Errorf("failed to import orders: %w", err)
	}

	second := &pgx.Batch{}
	for _, o := range orders {
		for _, ln := range o.Lines {
			second.Queue(`
				INSERT INTO order_items (order_id, item_id, quantity, price) VALUES ($1, $2, $3, $4)
				ON CONFLICT (order_id, item_id) DO UPDATE
				SET quantity = EXCLUDED.quantity, price = EXCLUDED.price
			`, o.ID, itemIDs[ln.ItemName], ln.Quantity, ln.Price)
		}
	}
	if err := tx.SendBatch(ctx, second).Close(); err != nil {
		return fmt.Errorf("failed to import order items: %w", err)
	}

	log.Info().Int("items", len(itemIDs)).Int("stores", len(stores)).Msg("batches sent")
	return tx.Commit(ctx)
}
