package replay

// queue holds the recorded exchanges still to be played back.
type queue struct {
	elements []Exchange
}

func (q *queue) enqueue(element Exchange) {
	q.elements = append(q.elements, element)
}

func (q *queue) dequeue() (Exchange, bool) {
	if len(q.elements) == 0 {
		return Exchange{}, false
	}
	element := q.elements[0]
	q.elements = q.elements[1:]
	return element, true
}

func (q *queue) size() int {
	return len(q.elements)
}
