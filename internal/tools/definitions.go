package tools

import "encoding/json"

var definitions = []Definition{
	{
		Name:        "parse_figma_url",
		Description: "Parse a Figma URL to extract the file key and node id and determine the URL type",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "url": {"type": "string", "description": "The Figma URL to parse (file or design URL)"}
  },
  "required": ["url"]
}`),
	},
	{
		Name:        "get_file",
		Description: "Get file contents from a Figma file using file key",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "file_key": {"type": "string", "description": "The Figma file key (extract from URL using parse_figma_url)"},
    "depth": {"type": "integer", "minimum": 1, "description": "Depth to traverse into the document tree (default: 1). Use 1 for pages only, 2 for pages + top-level objects, etc."}
  },
  "required": ["file_key"]
}`),
	},
	{
		Name:        "get_file_nodes",
		Description: "Get specific nodes from a file using file key",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "file_key": {"type": "string", "description": "The Figma file key (extract from URL using parse_figma_url)"},
    "node_ids": {"type": "string", "description": "Comma-separated list of node IDs to fetch"},
    "depth": {"type": "integer", "minimum": 1, "description": "Depth to traverse from each node (default: 1). Use 1 for direct children only, 2 for children + grandchildren, etc."}
  },
  "required": ["file_key", "node_ids"]
}`),
	},
	{
		Name:        "export_images",
		Description: "Export images from a Figma file using file key. Exported images become readable resources.",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "file_key": {"type": "string", "description": "The Figma file key (extract from URL using parse_figma_url)"},
    "node_ids": {"type": "string", "description": "Comma-separated node IDs to export"},
    "format": {"type": "string", "enum": ["png", "jpg", "svg", "pdf"], "description": "Export format (default: png)"},
    "scale": {"type": "number", "minimum": 0.01, "maximum": 4, "description": "Export scale factor (default: 1)"}
  },
  "required": ["file_key", "node_ids"]
}`),
	},
	{
		Name:        "get_me",
		Description: "Get current user information (useful for testing authentication)",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
	},
	{
		Name:        "help",
		Description: "How to use this Figma file server",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
	},
}

const helpText = `# Figma file server

Tools to read Figma files by file key, with depth control to keep responses small.

## Workflow

1. Use parse_figma_url to extract the file key (and node id) from a shared link.
2. Call get_file at depth=1 to see the pages.
3. Call get_file_nodes with page or frame ids to go deeper.
4. Call export_images to render nodes; each image becomes a resource.

## Tools

- parse_figma_url: file key, node id and URL kind of a Figma link
- get_file: file structure, depth defaults to 1
- get_file_nodes: specific nodes, depth defaults to 1
- export_images: render nodes as png, jpg, svg or pdf at scale 0.01 to 4
- get_me: check the token and show the user it belongs to

## Resources

Exported images are listed as resources with URIs like
figma://file/{file_key}/node/{node_id}.{format}
Reading one downloads the image on first use and returns it base64 encoded.
Export links expire; if a read fails, export the node again.

## Depth

- depth=1: files show pages only, nodes show direct children
- depth=2: adds one more level
- depth=3 and above: use carefully, responses grow quickly

## Supported URLs

- https://www.figma.com/file/FILE_KEY/title
- https://www.figma.com/file/FILE_KEY/title?node-id=1%3A2
- https://www.figma.com/design/FILE_KEY/title?node-id=1-2

## Authentication

Set FIGMA_TOKEN to a personal access token:
https://www.figma.com/developers/api#access-tokens
`
