// Command qsimdemo prepares a small quantum circuit and prints what the
// engine measures: basis probabilities, per-qubit Bloch vectors and the
// reduced density matrix of the first two qubits.
package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"log/slog"
	"os"

	"github.com/chewxy/math32"
	"golang.org/x/image/draw"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/qsim"
	"github.com/gogpu/qsim/codec"
	"github.com/gogpu/qsim/control"
	_ "github.com/gogpu/qsim/gpu" // enable the Vulkan accelerator when available
)

func main() {
	var (
		circuit   = flag.String("circuit", "ghz", "circuit to run: bell, ghz, hadamard or rotate")
		qubits    = flag.Int("qubits", 3, "number of qubits")
		backend   = flag.String("backend", "auto", "backend: auto, cpu or gpu")
		codecName = flag.String("codec", "", "texture codec: float or byte (default: chosen by backend)")
		output    = flag.String("png", "", "write a probability heat map to this file")
		top       = flag.Int("top", 8, "number of basis states to print")
		verbose   = flag.Bool("v", false, "log engine diagnostics")
	)
	flag.Parse()

	if *verbose {
		qsim.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	mode, err := qsim.ParseBackendMode(*backend)
	if err != nil {
		log.Fatalf("Invalid backend: %v", err)
	}
	opts := []qsim.Option{qsim.WithBackend(mode)}
	switch *codecName {
	case "":
	case "float":
		opts = append(opts, qsim.WithCodec(codec.TagFloat))
	case "byte":
		opts = append(opts, qsim.WithCodec(codec.TagByte))
	default:
		log.Fatalf("Unknown codec %q", *codecName)
	}

	ops, err := buildCircuit(*circuit, *qubits)
	if err != nil {
		log.Fatal(err)
	}

	e, err := qsim.New(*qubits, opts...)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}
	defer e.Close()

	if err := e.Run(ops...); err != nil {
		log.Fatalf("Failed to run circuit: %v", err)
	}

	p := message.NewPrinter(language.English)
	p.Printf("%s circuit on %d qubits (%v backend, %v codec, %d operations)\n\n",
		*circuit, *qubits, e.Backend(), e.Codec().Tag(), len(ops))

	probs, err := e.Probabilities()
	if err != nil {
		log.Fatalf("Failed to read probabilities: %v", err)
	}
	printProbabilities(p, probs, *qubits, *top)

	dens, err := e.QubitDensities()
	if err != nil {
		log.Fatalf("Failed to read densities: %v", err)
	}
	p.Printf("\nqubit   bloch (x, y, z)            purity\n")
	for _, d := range dens {
		x, y, z := qsim.Bloch(d)
		p.Printf("%5d   (%+.3f, %+.3f, %+.3f)   %.3f\n", d.Qubit, x, y, z, qsim.Purity(d))
	}

	if *qubits >= 2 {
		dm, err := e.DensityMatrix([]int{0, 1}, control.None)
		if err != nil {
			log.Fatalf("Failed to read density matrix: %v", err)
		}
		p.Printf("\nreduced density matrix of qubits 0, 1 (trace %.4f)\n", dm.Trace())
		for r := range dm.Dim {
			for c := range dm.Dim {
				v := dm.At(r, c)
				p.Printf("  %+.3f%+.3fi", real(v), imag(v))
			}
			p.Printf("\n")
		}
	}

	stats := e.PoolStats()
	p.Printf("\npool: %d live, %d allocated, %d reused, %d bytes live\n",
		stats.Live, stats.Allocated, stats.Reused, stats.LiveBytes)

	if *output != "" {
		if err := saveHeatMap(*output, probs); err != nil {
			log.Fatalf("Failed to save: %v", err)
		}
		log.Printf("Heat map saved to %s\n", *output)
	}
}

func buildCircuit(name string, n int) ([]qsim.Operation, error) {
	var ops []qsim.Operation
	switch name {
	case "bell":
		if n < 2 {
			return nil, fmt.Errorf("bell circuit needs at least 2 qubits, got %d", n)
		}
		ops = append(ops, qsim.Gate(qsim.Hadamard(), 0), qsim.Controlled(qsim.PauliX(), 1, control.On(0)))
	case "ghz":
		ops = append(ops, qsim.Gate(qsim.Hadamard(), 0))
		for q := 1; q < n; q++ {
			ops = append(ops, qsim.Controlled(qsim.PauliX(), q, control.On(q-1)))
		}
	case "hadamard":
		for q := range n {
			ops = append(ops, qsim.Gate(qsim.Hadamard(), q))
		}
	case "rotate":
		for q := range n {
			theta := math32.Pi * float32(q+1) / float32(n+1)
			ops = append(ops, qsim.Gate(qsim.RotationY(theta), q), qsim.Gate(qsim.RotationZ(theta/2), q))
		}
		for q := 1; q < n; q++ {
			ops = append(ops, qsim.Swap(q-1, q))
		}
	default:
		return nil, fmt.Errorf("unknown circuit %q", name)
	}
	return ops, nil
}

func printProbabilities(p *message.Printer, probs []float32, qubits, top int) {
	type entry struct {
		index int
		p     float32
	}
	var shown []entry
	rest := append([]float32(nil), probs...)
	for len(shown) < top {
		i, v := qsim.MostLikely(rest)
		if i < 0 || v <= 0 {
			break
		}
		shown = append(shown, entry{i, v})
		rest[i] = 0
	}
	p.Printf("%d basis states, total probability %.6f\n", len(probs), qsim.TotalProbability(probs))
	for _, s := range shown {
		p.Printf("  |%0*b>  %7.3f%%\n", qubits, s.index, 100*s.p)
	}
}

// saveHeatMap draws probabilities as a grayscale grid scaled up for viewing.
func saveHeatMap(path string, probs []float32) error {
	w := 1
	for w*w < len(probs) {
		w *= 2
	}
	h := (len(probs) + w - 1) / w
	src := image.NewGray(image.Rect(0, 0, w, h))
	_, peak := qsim.MostLikely(probs)
	for i, v := range probs {
		if peak > 0 {
			src.SetGray(i%w, i/w, color.Gray{Y: uint8(255 * v / peak)})
		}
	}

	const cell = 16
	dst := image.NewGray(image.Rect(0, 0, w*cell, h*cell))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, dst); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
