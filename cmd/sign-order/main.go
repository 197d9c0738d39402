// sign-order is a devnet helper that generates a keypair, builds a signed
// order intent, and prints the JSON body for POST /api/v1/orders —
// grounded on the teacher's cmd/sign-order/main.go walkthrough, retargeted
// from the teacher's OrderEIP712/SignedTransaction wire shape to
// signing.OrderIntent and the venue's submitOrderRequest.
package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/memeperp/venue/internal/signing"
)

func main() {
	fmt.Println("Generating new keypair...")
	signer, err := signing.GenerateKey()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Address: %s\n", signer.Address().Hex())
	fmt.Printf("Private Key: %s (KEEP SECRET!)\n\n", signer.PrivateKeyHex())

	intent := &signing.OrderIntent{
		Trader:        signer.Address(),
		Symbol:        "BTC-USD",
		Side:          0, // long
		Type:          1, // limit
		TIF:           0, // GTC
		ReduceOnly:    false,
		PostOnly:      false,
		Size:          big.NewInt(1_000_000_000_000_000_000), // 1.0 at 1e18 scale
		Leverage:      big.NewInt(100_000),                   // 10x at 1e4 scale
		Price:         big.NewInt(50_000_000_000_000_000),    // 50000 at 1e12 scale
		TriggerPrice:  big.NewInt(0),
		Deadline:      big.NewInt(time.Now().Add(time.Hour).Unix()),
		Nonce:         big.NewInt(1),
		ClientOrderID: "cli-" + fmt.Sprint(time.Now().UnixNano()),
	}

	fmt.Println("Order intent:")
	fmt.Printf("  Symbol: %s\n", intent.Symbol)
	fmt.Printf("  Size: %s (1e18 scale)\n", intent.Size.String())
	fmt.Printf("  Price: %s (1e12 scale)\n", intent.Price.String())
	fmt.Printf("  Leverage: %s bps\n", intent.Leverage.String())
	fmt.Printf("  Trader: %s\n\n", intent.Trader.Hex())

	typedSigner := signing.NewTypedSigner(signing.DefaultDomain())
	digest, err := typedSigner.HashOrder(intent)
	if err != nil {
		fmt.Printf("Error hashing: %v\n", err)
		os.Exit(1)
	}
	signature, err := signer.Sign(digest)
	if err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Signature: 0x%x\n\n", signature)

	valid, err := typedSigner.VerifyOrder(intent, signature)
	if err != nil {
		fmt.Printf("Error verifying: %v\n", err)
		os.Exit(1)
	}
	if !valid {
		fmt.Println("signature INVALID")
		os.Exit(1)
	}
	fmt.Println("signature valid")

	body := map[string]interface{}{
		"trader":          intent.Trader.Hex(),
		"symbol":          intent.Symbol,
		"side":            intent.Side,
		"type":            intent.Type,
		"tif":             intent.TIF,
		"reduce_only":     intent.ReduceOnly,
		"post_only":       intent.PostOnly,
		"size":            intent.Size.Int64(),
		"leverage_bps":    intent.Leverage.Int64(),
		"price":           intent.Price.Int64(),
		"trigger_price":   intent.TriggerPrice.Int64(),
		"deadline_unix":   intent.Deadline.Int64(),
		"nonce":           intent.Nonce.Uint64(),
		"client_order_id": intent.ClientOrderID,
		"signature":       fmt.Sprintf("0x%x", signature),
	}
	payload, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nPOST /api/v1/orders body:")
	fmt.Println(string(payload))
}
