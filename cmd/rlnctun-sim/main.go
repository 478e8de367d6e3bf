// Command rlnctun-sim is an in-process demonstration harness: it draws a
// batch of random clear packets, random-linear-codes them into a batch of
// encoded packets, simulates loss on the wire, and feeds survivors into a
// decoder pool, printing how many source packets come back out and when.
// It exercises the same internal/coding machinery the tunnel uses, without
// a network or tunnel device, as a statistical check of property P5 (full
// rank over enough encoded packets recovers every source packet).
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"

	"github.com/flowpbx/rlnctun/internal/coding"
	"github.com/flowpbx/rlnctun/internal/gf"
)

func main() {
	clearPackets := flag.Int("clear-packets", 20, "number of source packets to generate")
	encodedPackets := flag.Int("encoded-packets", 210, "number of encoded packets to generate and offer to the decoder")
	packetLength := flag.Int("packet-length", 1500, "payload length in bytes")
	loss := flag.Float64("loss", 0.0, "probability in [0,1) of dropping an encoded packet before it reaches the decoder")
	seed := flag.Int64("seed", 1, "PRNG seed, for reproducible runs")
	verbose := flag.Bool("verbose", false, "print every packet's accept/reject/decode outcome")
	flag.Parse()

	if *loss < 0 || *loss >= 1 {
		fmt.Fprintln(os.Stderr, "error: -loss must be in [0,1)")
		os.Exit(1)
	}

	rnd := rand.New(rand.NewSource(*seed))
	field := gf.New(gf.DefaultPolynomial)

	sources := make([][]byte, *clearPackets)
	for i := range sources {
		sources[i] = make([]byte, *packetLength)
		rnd.Read(sources[i])
	}
	fmt.Printf("generated %d source packets of %d bytes\n", *clearPackets, *packetLength)

	pool := coding.NewPool(field, *clearPackets, 0)
	delivered := make(map[int]bool)
	decodedCount := 0

	for i := 0; i < *encodedPackets; i++ {
		if rnd.Float64() < *loss {
			if *verbose {
				fmt.Printf("encoded packet #%d lost\n", i)
			}
			continue
		}

		coeffs := make([]byte, *clearPackets)
		rnd.Read(coeffs)
		payload := make([]byte, *packetLength)
		for row, c := range coeffs {
			if c == 0 {
				continue
			}
			src := sources[row]
			for j := range payload {
				payload[j] = gf.Add(payload[j], field.Mul(c, src[j]))
			}
		}

		ok, err := pool.AddIfInnovative(&coding.EncodedPacket{Coeffs: coeffs, Payload: payload})
		if err != nil {
			fmt.Printf("encoded packet #%d: error: %v\n", i, err)
			continue
		}
		if !ok {
			if *verbose {
				fmt.Printf("encoded packet #%d: not innovative, dropped\n", i)
			}
			continue
		}
		if *verbose {
			fmt.Printf("encoded packet #%d: innovative, pool rank now %d\n", i, pool.Rank())
		}

		solved := pool.ExtractPackets(delivered)
		for _, s := range solved {
			match := bytesEqual(s.Clear.Payload, sources[s.RowIndex])
			fmt.Printf("decoded source packet #%d, matches original: %t\n", s.RowIndex, match)
			decodedCount++
		}

		if decodedCount == *clearPackets {
			fmt.Printf("all %d source packets recovered after %d encoded packets\n", *clearPackets, i+1)
			return
		}
	}

	fmt.Printf("finished: %d of %d source packets recovered (pool rank %d)\n", decodedCount, *clearPackets, pool.Rank())
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
