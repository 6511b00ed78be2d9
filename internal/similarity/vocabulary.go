package similarity

// defaultTerms are data-structure and algorithm-pattern keywords
var defaultTerms = []string{
	"hash",
	"two pointer",
	"sliding window",
	"binary search",
	"prefix sum",
	"stack",
	"queue",
	"heap",
	"priority queue",
	"linked list",
	"tree",
	"graph",
	"dfs",
	"bfs",
	"depth first",
	"breadth first",
	"dynamic programming",
	"dp",
	"memoiz",
	"memois",
	"greedy",
	"backtrack",
	"recurs",
	"sort",
	"brute force",
	"nested loop",
	"union find",
	"bit manipulation",
	"topological",
	"matrix",
	"interval",
}

var defaultStopwords = []string{
	"about", "above", "after", "again", "also", "approach", "because", "been",
	"before", "being", "both", "could", "does", "doing", "each", "else", "every",
	"first", "from", "have", "here", "idea", "into", "just", "like", "make",
	"maybe", "more", "most", "much", "need", "only", "other", "over", "same",
	"should", "some", "such", "than", "that", "their", "them", "then", "there",
	"these", "they", "thing", "think", "this", "those", "through", "until",
	"very", "want", "well", "were", "what", "when", "where", "which", "while",
	"will", "with", "would", "your",
}
