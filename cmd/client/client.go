package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"fenrir/internal/book"
	"fenrir/internal/wire"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:8080", "Address of the exchange server")
	owner := flag.String("owner", "", "Client id (compulsory)")
	action := flag.String("action", "place", "Action to perform: ['place', 'cancel']")

	symbol := flag.String("symbol", "BTC-USD", "Symbol to trade")
	sideStr := flag.String("side", "buy", "Order side: 'buy' or 'sell'")
	typeStr := flag.String("type", "limit", "Order type: 'limit' or 'market'")
	price := flag.String("price", "100", "Limit price")
	qtyStr := flag.String("qty", "10", "Quantity or comma-separated list (e.g. 10,20,50)")

	orderID := flag.Uint64("order-id", 0, "Order id to cancel")

	flag.Parse()

	if *owner == "" {
		fmt.Println("Error: -owner is compulsory.")
		flag.Usage()
		os.Exit(1)
	}

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("failed to connect to server at %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("connected to %s as '%s'\n", *serverAddr, *owner)

	go readReports(conn)

	side := book.Buy
	if strings.ToLower(*sideStr) == "sell" {
		side = book.Sell
	}

	orderType := book.Limit
	if strings.ToLower(*typeStr) == "market" {
		orderType = book.Market
	}

	switch strings.ToLower(*action) {
	case "place":
		for _, qty := range parseQuantities(*qtyStr) {
			if err := sendPlaceOrder(conn, book.Symbol(*symbol), orderType, side, qty, *price, *owner); err != nil {
				log.Printf("failed to place order (qty %s): %v", qty, err)
			} else {
				fmt.Printf("-> sent %s %s %s @ %s\n", strings.ToUpper(*sideStr), qty, *symbol, *price)
			}
			time.Sleep(5 * time.Millisecond)
		}

	case "cancel":
		if *orderID == 0 {
			log.Fatal("error: -order-id is required for cancellation")
		}
		if err := sendCancelOrder(conn, book.Symbol(*symbol), book.OrderId(*orderID)); err != nil {
			log.Printf("failed to send cancel request: %v", err)
		} else {
			fmt.Printf("-> sent cancel request for order %d\n", *orderID)
		}

	default:
		log.Fatalf("unknown action: %s", *action)
	}

	fmt.Println("\nlistening for reports... (press ctrl+c to exit)")
	select {}
}

func parseQuantities(input string) []string {
	parts := strings.Split(input, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if _, err := strconv.ParseFloat(p, 64); err == nil {
			result = append(result, p)
		} else {
			log.Printf("warning: invalid quantity '%s', skipping", p)
		}
	}
	return result
}

func sendPlaceOrder(conn net.Conn, symbol book.Symbol, orderType book.OrderType, side book.Side, qty, price, clientID string) error {
	var header [2]byte
	binary.BigEndian.PutUint16(header[:], uint16(wire.NewOrder))

	buf := append([]byte{}, header[:]...)
	buf = appendString(buf, string(symbol))
	buf = append(buf, byte(orderType), byte(side))
	buf = appendDecimalString(buf, qty)
	if orderType == book.Market {
		buf = appendString(buf, "")
	} else {
		buf = appendDecimalString(buf, price)
	}
	buf = appendString(buf, clientID)

	_, err := conn.Write(buf)
	return err
}

func sendCancelOrder(conn net.Conn, symbol book.Symbol, id book.OrderId) error {
	var header [2]byte
	binary.BigEndian.PutUint16(header[:], uint16(wire.CancelOrder))

	buf := append([]byte{}, header[:]...)
	buf = appendString(buf, string(symbol))
	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], uint64(id))
	buf = append(buf, idBuf[:]...)

	_, err := conn.Write(buf)
	return err
}

func appendString(buf []byte, s string) []byte {
	var length [2]byte
	binary.BigEndian.PutUint16(length[:], uint16(len(s)))
	buf = append(buf, length[:]...)
	return append(buf, s...)
}

func appendDecimalString(buf []byte, s string) []byte {
	return appendString(buf, s)
}

// readReports continuously reads from the server, decoding the bytes of
// each Read as one serialized Report, and prints them to stdout. Reports
// are not framed across reads.
func readReports(conn net.Conn) {
	for {
		lengthHint := make([]byte, 4096)
		n, err := conn.Read(lengthHint)
		if err != nil {
			if err != io.EOF {
				log.Printf("connection lost: %v", err)
			}
			os.Exit(0)
		}

		report, err := wire.ParseReport(lengthHint[:n])
		if err != nil {
			log.Printf("error parsing report: %v", err)
			continue
		}

		if report.Type == wire.ErrorReport {
			fmt.Printf("\n[server error] %s\n", report.Err)
			continue
		}

		fmt.Printf("\n[execution] %s %s qty=%s price=%s status=%s\n",
			report.ExecType, report.Symbol, report.LastQuantity, report.Price, report.Status)
	}
}
