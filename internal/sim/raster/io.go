package raster

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// Header carries the georeference of an ASCII grid file. All grids of one
// simulation share a header; the engine only needs the cell size and origin.
type Header struct {
	XLL      float64
	YLL      float64
	CellSize float64
	NoData   float64
}

// North is the northing of the top edge of the grid.
func (h Header) North(rows int) float64 {
	return h.YLL + float64(rows)*h.CellSize
}

func readASCII(path string) (rows, cols int, hdr Header, vals []float64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, hdr, nil, err
	}
	defer f.Close()

	hdr.NoData = -9999
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)

	parseCells := func(line string) error {
		for _, fv := range strings.Fields(line) {
			x, perr := strconv.ParseFloat(fv, 64)
			if perr != nil {
				return fmt.Errorf("%s: bad cell value %q", path, fv)
			}
			vals = append(vals, x)
		}
		return nil
	}

	// Five mandatory header lines, then an optional nodata_value line.
	headerDone := false
	lineNo := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if headerDone {
			if err := parseCells(line); err != nil {
				return 0, 0, hdr, nil, err
			}
			continue
		}
		fields := strings.Fields(line)
		key := strings.ToLower(fields[0])
		isHeaderKey := key == "ncols" || key == "nrows" || key == "xllcorner" ||
			key == "yllcorner" || key == "cellsize" || key == "nodata_value"
		if lineNo >= 5 && !isHeaderKey {
			headerDone = true
			if err := parseCells(line); err != nil {
				return 0, 0, hdr, nil, err
			}
			continue
		}
		if !isHeaderKey || len(fields) != 2 {
			return 0, 0, hdr, nil, fmt.Errorf("%s: bad header line %q", path, line)
		}
		v, perr := strconv.ParseFloat(fields[1], 64)
		if perr != nil {
			return 0, 0, hdr, nil, fmt.Errorf("%s: bad header value %q", path, fields[1])
		}
		switch key {
		case "ncols":
			cols = int(v)
		case "nrows":
			rows = int(v)
		case "xllcorner":
			hdr.XLL = v
		case "yllcorner":
			hdr.YLL = v
		case "cellsize":
			hdr.CellSize = v
		case "nodata_value":
			hdr.NoData = v
			headerDone = true
		}
		lineNo++
	}
	if err := sc.Err(); err != nil {
		return 0, 0, hdr, nil, err
	}
	if rows <= 0 || cols <= 0 {
		return 0, 0, hdr, nil, fmt.Errorf("%s: missing nrows/ncols", path)
	}
	if len(vals) != rows*cols {
		return 0, 0, hdr, nil, fmt.Errorf("%s: got %d cells, want %d", path, len(vals), rows*cols)
	}
	return rows, cols, hdr, vals, nil
}

// ReadASCII reads an ESRI ASCII grid as an integer raster. Nodata cells
// read as zero.
func ReadASCII(path string) (*Grid, Header, error) {
	rows, cols, hdr, vals, err := readASCII(path)
	if err != nil {
		return nil, hdr, err
	}
	g := NewGrid(rows, cols)
	for i, v := range vals {
		if v == hdr.NoData || math.IsNaN(v) {
			continue
		}
		g.Cells[i] = int(math.Round(v))
	}
	return g, hdr, nil
}

// ReadASCIIFloat reads an ESRI ASCII grid as a float raster. Nodata cells
// read as zero.
func ReadASCIIFloat(path string) (*FGrid, Header, error) {
	rows, cols, hdr, vals, err := readASCII(path)
	if err != nil {
		return nil, hdr, err
	}
	g := NewFGrid(rows, cols)
	for i, v := range vals {
		if v == hdr.NoData || math.IsNaN(v) {
			continue
		}
		g.Cells[i] = v
	}
	return g, hdr, nil
}

// WriteASCII writes an integer raster as an ESRI ASCII grid.
func WriteASCII(path string, g *Grid, hdr Header) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "ncols %d\n", g.Cols)
	fmt.Fprintf(w, "nrows %d\n", g.Rows)
	fmt.Fprintf(w, "xllcorner %g\n", hdr.XLL)
	fmt.Fprintf(w, "yllcorner %g\n", hdr.YLL)
	fmt.Fprintf(w, "cellsize %g\n", hdr.CellSize)
	fmt.Fprintf(w, "NODATA_value %g\n", hdr.NoData)
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			if c > 0 {
				if err := w.WriteByte(' '); err != nil {
					return err
				}
			}
			if _, err := w.WriteString(strconv.Itoa(g.At(r, c))); err != nil {
				return err
			}
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}
