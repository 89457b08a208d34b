package format

// Fragment is one kind of markup the chat surface knows how to display.
type Fragment int

const (
	Heading Fragment = iota
	Strong
	Emphasis
	InlineCode
	CodeBlock
	Paragraph
	ListItem
	ListContainer
)

type tags struct {
	open, close string
}

var fragmentTags = map[Fragment]tags{
	Heading:       {`<h3 class="font-bold text-lg mb-2 text-white">`, `</h3>`},
	Strong:        {`<strong class="font-semibold">`, `</strong>`},
	Emphasis:      {`<em class="italic">`, `</em>`},
	InlineCode:    {`<code class="bg-white/20 px-2 py-1 rounded text-sm font-mono">`, `</code>`},
	CodeBlock:     {`<pre class="bg-white/10 p-3 rounded-lg mt-2 mb-2 overflow-x-auto"><code class="text-sm font-mono whitespace-pre">`, `</code></pre>`},
	Paragraph:     {`<p class="mb-2">`, `</p>`},
	ListItem:      {`<li class="ml-4 mb-1">`, `</li>`},
	ListContainer: {`<ul class="mb-2">`, `</ul>`},
}

// Elements lists every HTML element the formatter may emit.
var Elements = []string{"h3", "strong", "em", "code", "pre", "p", "li", "ul"}

func (f Fragment) String() string {
	switch f {
	case Heading:
		return "heading"
	case Strong:
		return "strong"
	case Emphasis:
		return "emphasis"
	case InlineCode:
		return "inline-code"
	case CodeBlock:
		return "code-block"
	case Paragraph:
		return "paragraph"
	case ListItem:
		return "list-item"
	case ListContainer:
		return "list-container"
	default:
		return "unknown"
	}
}

// Open returns the opening markup of the fragment.
func (f Fragment) Open() string { return fragmentTags[f].open }

// Close returns the closing markup of the fragment.
func (f Fragment) Close() string { return fragmentTags[f].close }

// ParagraphBreak closes the current paragraph and opens the next one.
func ParagraphBreak() string {
	return Paragraph.Close() + Paragraph.Open()
}

func wrap(f Fragment, inner string) string {
	return f.Open() + inner + f.Close()
}
