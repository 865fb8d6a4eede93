package topology

import "fmt"

type Direction int

// Numbering matches the trait encoding agents use for their facing.
const (
	Up Direction = iota
	Left
	Down
	Right
)

const NumDirections = 4

var directionNames = [NumDirections]string{"up", "left", "down", "right"}

func (d Direction) Valid() bool {
	return d >= 0 && d < NumDirections
}

func (d Direction) String() string {
	if !d.Valid() {
		return fmt.Sprintf("direction(%d)", int(d))
	}
	return directionNames[d]
}

func (d Direction) RotateClockwise() Direction {
	return Direction(mod(int(d)-1, NumDirections))
}

func (d Direction) RotateCounterClockwise() Direction {
	return Direction(mod(int(d)+1, NumDirections))
}

// Cardinal lists the broadcast fan-out order.
func Cardinal() [NumDirections]Direction {
	return [NumDirections]Direction{Up, Down, Left, Right}
}

// Grid is a toroidal width x height lattice. Cell ids are y*width + x.
// A Grid is immutable once built and may be shared read-only.
type Grid struct {
	width     int
	height    int
	neighbors []int
}

func Build(width, height int) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("grid dimensions must be positive: width=%d height=%d", width, height)
	}
	g := &Grid{
		width:     width,
		height:    height,
		neighbors: make([]int, width*height*NumDirections),
	}
	for id := 0; id < width*height; id++ {
		for d := Direction(0); d < NumDirections; d++ {
			g.neighbors[id*NumDirections+int(d)] = g.calcNeighbor(id, d)
		}
	}
	return g, nil
}

func (g *Grid) calcNeighbor(id int, dir Direction) int {
	x, y := g.LocX(id), g.LocY(id)
	switch dir {
	case Up:
		y = mod(y-1, g.height)
	case Left:
		x = mod(x-1, g.width)
	case Down:
		y = mod(y+1, g.height)
	case Right:
		x = mod(x+1, g.width)
	}
	return g.IDFromCoords(x, y)
}

func (g *Grid) Width() int  { return g.width }
func (g *Grid) Height() int { return g.height }
func (g *Grid) Size() int   { return g.width * g.height }

// NeighborID panics on an out-of-range id or direction: both are caller bugs.
func (g *Grid) NeighborID(id int, dir Direction) int {
	if !dir.Valid() {
		panic(fmt.Sprintf("topology: invalid direction %d", int(dir)))
	}
	if id < 0 || id >= g.Size() {
		panic(fmt.Sprintf("topology: cell id %d out of range [0,%d)", id, g.Size()))
	}
	return g.neighbors[id*NumDirections+int(dir)]
}

func (g *Grid) LocX(id int) int { return id % g.width }
func (g *Grid) LocY(id int) int { return id / g.width }

func (g *Grid) IDFromCoords(x, y int) int {
	return y*g.width + x
}

func mod(v, m int) int {
	r := v % m
	if r < 0 {
		r += m
	}
	return r
}
