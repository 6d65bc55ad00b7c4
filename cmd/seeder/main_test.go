package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedCSV = `driver_id,order_id,store_id,delivery_status,item_name,quantity,price
5,42,1,delivering,Bananas,3,0.39
5,42,1,delivering,Whole Milk,1,
5,42,1,delivering,bananas,1,0.39
6,43,2,,Eggs,12,4.99
5,44,1,InProgress,Bread,1,2.50
`

func TestParseSeedRows(t *testing.T) {
	rows, err := parseSeedRows(strings.NewReader(seedCSV))
	require.NoError(t, err)
	require.Len(t, rows, 5)

	assert.Equal(t, seedRow{DriverID: 5, OrderID: 42, StoreID: 1, Status: "delivering", ItemName: "Whole Milk", Quantity: 1}, rows[1])
	require.NotNil(t, rows[0].Price)
	assert.Equal(t, 0.39, *rows[0].Price)
	assert.Equal(t, "inprogress", rows[3].Status)
	assert.Equal(t, "inprogress", rows[4].Status)
}

func TestParseSeedRows_Errors(t *testing.T) {
	header := "driver_id,order_id,store_id,delivery_status,item_name,quantity,price\n"

	cases := []struct {
		name string
		csv  string
		want string
	}{
		{"empty", "", "failed to read header"},
		{"wrong header", "a,b,c,d,e,f,g\n", `expected "driver_id"`},
		{"short header", "driver_id,order_id\n", "expected 7 columns"},
		{"bad driver", header + "x,1,1,delivering,Milk,1,\n", "line 2: invalid driver_id"},
		{"blank item", header + "1,1,1,delivering, ,1,\n", "line 2: item_name is empty"},
		{"zero quantity", header + "1,1,1,delivering,Milk,0,\n", "line 2: invalid quantity"},
		{"bad price", header + "1,1,1,delivering,Milk,1,free\n", "line 2: invalid price"},
		{"ragged row", header + "1,1,1\n", "line 2:"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := parseSeedRows(strings.NewReader(c.csv))
			require.Error(t, err)
			assert.Contains(t, err.Error(), c.want)
		})
	}
}

func TestGroupOrders(t *testing.T) {
	rows, err := parseSeedRows(strings.NewReader(seedCSV))
	require.NoError(t, err)

	orders := groupOrders(rows)
	require.Len(t, orders, 3)

	assert.Equal(t, 42, orders[0].ID)
	require.Len(t, orders[0].Lines, 2)
	assert.Equal(t, "Bananas", orders[0].Lines[0].ItemName)
	assert.Equal(t, 4.0, orders[0].Lines[0].Quantity)

	assert.Equal(t, []int{5, 6}, driverIDs(orders))
}
