package hnsw

import "container/heap"

// Compile time check to ensure priorityQueue satisfies the heap interface.
var _ heap.Interface = (*priorityQueue)(nil)

// queueItem is one candidate in a priority queue.
type queueItem struct {
	Ordinal  uint32  // arena ordinal of the candidate vector
	Distance float32 // priority of the item in the queue
	Index    int     // maintained by the heap.Interface methods
}

// priorityQueue implements heap.Interface over queueItems. With Order
// false it is a min-heap (closest first), with Order true a max-heap.
type priorityQueue struct {
	Order bool
	Items []*queueItem
}

func (pq *priorityQueue) Len() int { return len(pq.Items) }

func (pq *priorityQueue) Less(i, j int) bool {
	if !pq.Order {
		return pq.Items[i].Distance < pq.Items[j].Distance
	}
	return pq.Items[i].Distance > pq.Items[j].Distance
}

func (pq *priorityQueue) Swap(i, j int) {
	pq.Items[i], pq.Items[j] = pq.Items[j], pq.Items[i]
	pq.Items[i].Index, pq.Items[j].Index = i, j
}

func (pq *priorityQueue) Push(x any) {
	item, _ := x.(*queueItem)
	item.Index = len(pq.Items)
	pq.Items = append(pq.Items, item)
}

func (pq *priorityQueue) Pop() any {
	if len(pq.Items) == 0 {
		return nil
	}

	old := pq.Items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	pq.Items = old[:n-1]

	return item
}

// Top returns the root of the heap without removing it.
func (pq *priorityQueue) Top() *queueItem {
	return pq.Items[0]
}
