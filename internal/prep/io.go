package prep

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"image/color"
	"io"
	"log"
	"math"
	"os"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

var (
	ErrWritingFile = errors.New("error writing file")

	plotLineColor  = color.RGBA{R: 37, G: 150, B: 190, A: 255}
	plotMarkerShap = draw.SquareGlyph{}
)

const (
	plotH = 4 * vg.Inch
	plotW = 6 * vg.Inch

	maxTicks = 10
)

// Output file names derived from the output base name
type Artifacts struct {
	Quartets       string // weighted quartet trees (6 per quartet)
	Tree           string // final MRP tree
	Search         string // supermatrix + search script given to the oracle
	LastQuartetLog string // oracle stdout for the last quartet
	QuartetStats   string // quartet satisfaction of each tree
	Replicates     string // one tree per bootstrap replicate
	Consensus      string // bootstrap majority-rule consensus
	Splits         string // split frequencies across replicates
	SplitsPlot     string // plot of split frequencies
}

func NewArtifacts(base string) Artifacts {
	return Artifacts{
		Quartets:       base + ".quartets.tre",
		Tree:           base + ".MRP.tre",
		Search:         base + ".MRP_search.nex",
		LastQuartetLog: base + ".last_quartet_log.txt",
		QuartetStats:   base + ".qstats.csv",
		Replicates:     base + ".MRP_bs_pseudoreplicates.tre",
		Consensus:      base + ".MRP_bs_consensus.tre",
		Splits:         base + ".MRP_bs_splits.csv",
		SplitsPlot:     base + ".MRP_bs_splits.png",
	}
}

// Base name for the retained artifacts of bootstrap replicate r
func ReplicateBase(base string, r int) string {
	return fmt.Sprintf("%s_BS%d", base, r)
}

// Writes one newick string per line
func WriteTrees(file string, newicks []string) (err error) {
	f, err := os.Create(file)
	if err != nil {
		return fmt.Errorf("%w %s, %s", ErrWritingFile, file, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w %s, %s", ErrWritingFile, file, cerr)
		}
	}()
	w := bufio.NewWriter(f)
	for _, nwk := range newicks {
		if _, err = w.WriteString(nwk + "\n"); err != nil {
			return fmt.Errorf("%w %s, %s", ErrWritingFile, file, err)
		}
	}
	if err = w.Flush(); err != nil {
		return fmt.Errorf("%w %s, %s", ErrWritingFile, file, err)
	}
	return nil
}

func WriteFile(file string, data []byte) error {
	if err := os.WriteFile(file, data, 0644); err != nil {
		return fmt.Errorf("%w %s, %s", ErrWritingFile, file, err)
	}
	return nil
}

// Bootstrap support for one split
type SplitSupport struct {
	Split      string  // split as taxon names
	Replicates int     // replicates containing the split
	Frequency  float64 // Replicates / total replicates
}

// Write split frequency csv to writer.
//
// There are three columns: "Split", "Replicates", "Frequency"
func WriteSplitsCSV(supports []SplitSupport, w io.Writer) (err error) {
	data := make([][]string, len(supports)+1)
	data[0] = []string{"Split", "Replicates", "Frequency"}
	for i, s := range supports {
		data[i+1] = []string{
			s.Split,
			strconv.Itoa(s.Replicates),
			strconv.FormatFloat(s.Frequency, 'f', -1, 64),
		}
	}
	return writeCSV(data, w)
}

// Quartet satisfaction of one tree
type QuartetStat struct {
	Tree      string // "MRP" or "BS<r>"
	Satisfied int    // weighted quartet copies displayed by the tree
	Total     int    // weighted quartet copies
}

func (qs QuartetStat) Percent() float64 {
	if qs.Total == 0 {
		return 0
	}
	return 100 * float64(qs.Satisfied) / float64(qs.Total)
}

// Write quartet satisfaction csv to writer.
//
// There are four columns: "Tree", "Satisfied", "Total", "Percent"
func WriteQuartetStatsCSV(stats []QuartetStat, w io.Writer) error {
	data := make([][]string, len(stats)+1)
	data[0] = []string{"Tree", "Satisfied", "Total", "Percent"}
	for i, s := range stats {
		data[i+1] = []string{
			s.Tree,
			strconv.Itoa(s.Satisfied),
			strconv.Itoa(s.Total),
			strconv.FormatFloat(s.Percent(), 'f', -1, 64),
		}
	}
	return writeCSV(data, w)
}

func writeCSV(data [][]string, w io.Writer) (err error) {
	writer := csv.NewWriter(w)
	defer func() {
		writer.Flush()
		if err == nil {
			err = writer.Error()
		} else if writer.Error() != nil {
			log.Printf("error when flushing output csv, %s", writer.Error())
		}
	}()
	if err = writer.WriteAll(data); err != nil {
		err = fmt.Errorf("%w, %s", ErrWritingFile, err)
		return
	}
	return
}

// Writes csv produced by write to file
func WriteCSVFile(file string, write func(io.Writer) error) (err error) {
	f, err := os.Create(file)
	if err != nil {
		return fmt.Errorf("%w %s, %s", ErrWritingFile, file, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w %s, %s", ErrWritingFile, file, cerr)
		}
	}()
	return write(f)
}

// Line plot of split frequencies (already sorted in decreasing order) against
// their rank
func WriteSupportLineplot(freqs []float64, file string) error {
	p := plot.New()
	p.X.Label.Text = "Split Rank"
	p.Y.Label.Text = "Percent of Bootstrap Replicates"
	p.X.Min = 1
	p.X.Max = math.Max(float64(len(freqs)), 1)
	p.X.Tick.Marker = plot.TickerFunc(func(_, max float64) []plot.Tick {
		step := 1
		if int(max) > maxTicks {
			step = int(math.Ceil(max / maxTicks))
		}
		ticks := make([]plot.Tick, 0, int(max)/step+2)
		for i := 1; i <= int(max); i++ {
			if i%step == 0 || i == 1 {
				ticks = append(ticks, plot.Tick{Value: float64(i), Label: fmt.Sprintf("%d", i)})
			} else {
				ticks = append(ticks, plot.Tick{Value: float64(i)})
			}
		}
		return ticks
	})
	p.Y.Min = 0
	p.Y.Max = 100
	pts := make(plotter.XYs, len(freqs))
	for i, f := range freqs {
		pts[i].X = float64(i + 1)
		pts[i].Y = 100 * f
	}
	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return err
	}
	line.Color = plotLineColor
	line.Dashes = []vg.Length{vg.Points(6), vg.Points(3)}
	points.Color = plotLineColor
	points.Shape = plotMarkerShap
	points.Radius = vg.Points(4)
	p.Add(line, points)
	if err := p.Save(plotW, plotH, file); err != nil {
		return fmt.Errorf("%w %s, %s", ErrWritingFile, file, err)
	}
	return nil
}

// Logs message when count passes another n percent of total
func LogEveryNPercent(count, n, total int, message string) {
	if total <= 0 || n <= 0 {
		return
	}
	if cur, prev := count*100/total/n, (count-1)*100/total/n; cur != prev || count == total {
		log.Print(message)
	}
}
