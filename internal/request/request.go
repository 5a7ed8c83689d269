package request

// Content is a text value with its character set.
type Content struct {
	Data    string
	Charset string
}

// Body holds the optional HTML and text bodies of a message.
type Body struct {
	Html *Content
	Text *Content
}

// Message is the subject and body of a SendEmail request.
type Message struct {
	Subject *Content
	Body    Body
}

// Destination lists the recipients of a message.
type Destination struct {
	ToAddresses  []string
	CcAddresses  []string
	BccAddresses []string
}

// All returns To, Cc and Bcc in that order.
func (d *Destination) All() []string {
	if d == nil {
		return nil
	}
	all := make([]string, 0, len(d.ToAddresses)+len(d.CcAddresses)+len(d.BccAddresses))
	all = append(all, d.ToAddresses...)
	all = append(all, d.CcAddresses...)
	return append(all, d.BccAddresses...)
}

// Tag is a message tag (Tags.member.N.Name / Value).
type Tag struct {
	Name  string
	Value string
}

// EmailRequest is a SendEmail or SendTemplatedEmail request.
type EmailRequest struct {
	Action               string
	Source               string
	Destination          *Destination // nil when absent or empty
	Message              Message
	ReplyToAddresses     []string
	ReturnPath           string
	ConfigurationSetName string
	Tags                 []Tag
	Template             string
	TemplateData         string
}

// BulkDestination is one entry of a SendBulkTemplatedEmail request.
type BulkDestination struct {
	Destination             *Destination
	ReplacementTemplateData string
	ReplacementTags         []Tag
}

// BulkEmailRequest is a SendBulkTemplatedEmail request.
type BulkEmailRequest struct {
	Source               string
	Template             string
	DefaultTemplateData  string
	Destinations         []BulkDestination
	ReplyToAddresses     []string
	ConfigurationSetName string
	DefaultTags          []Tag
}

// RawEmailRequest is a SendRawEmail request.
type RawEmailRequest struct {
	Source               string
	Data                 string // base64 MIME
	Destinations         []string
	ConfigurationSetName string
	Tags                 []Tag
}

// ParseEmail reads a SendEmail/SendTemplatedEmail body.
func ParseEmail(t Tree) *EmailRequest {
	req := &EmailRequest{
		Action:               t.String("Action"),
		Source:               t.String("Source"),
		Destination:          parseDestination(t.Child("Destination")),
		ReplyToAddresses:     t.Strings("ReplyToAddresses"),
		ReturnPath:           t.String("ReturnPath"),
		ConfigurationSetName: t.String("ConfigurationSetName"),
		Tags:                 parseTags(t, "Tags"),
		Template:             t.String("Template"),
		TemplateData:         t.Text("TemplateData"),
	}

	msg := t.Child("Message")
	req.Message.Subject = parseContent(msg.Child("Subject"))
	body := msg.Child("Body")
	req.Message.Body.Html = parseContent(body.Child("Html"))
	req.Message.Body.Text = parseContent(body.Child("Text"))
	return req
}

// ParseBulk reads a SendBulkTemplatedEmail body. Destination order is
// kept.
func ParseBulk(t Tree) *BulkEmailRequest {
	req := &BulkEmailRequest{
		Source:               t.String("Source"),
		Template:             t.String("Template"),
		DefaultTemplateData:  t.Text("DefaultTemplateData"),
		ReplyToAddresses:     t.Strings("ReplyToAddresses"),
		ConfigurationSetName: t.String("ConfigurationSetName"),
		DefaultTags:          parseTags(t, "DefaultTags"),
	}
	for _, m := range t.Members("Destinations") {
		entry, ok := m.(Tree)
		if !ok {
			continue
		}
		req.Destinations = append(req.Destinations, BulkDestination{
			Destination:             parseDestination(entry.Child("Destination")),
			ReplacementTemplateData: entry.Text("ReplacementTemplateData"),
			ReplacementTags:         parseTags(entry, "ReplacementTags"),
		})
	}
	return req
}

// ParseRaw reads a SendRawEmail body.
func ParseRaw(t Tree) *RawEmailRequest {
	return &RawEmailRequest{
		Source:               t.String("Source"),
		Data:                 t.Child("RawMessage").String("Data"),
		Destinations:         t.Strings("Destinations"),
		ConfigurationSetName: t.String("ConfigurationSetName"),
		Tags:                 parseTags(t, "Tags"),
	}
}

func parseDestination(t Tree) *Destination {
	if len(t) == 0 {
		return nil
	}
	return &Destination{
		ToAddresses:  t.Strings("ToAddresses"),
		CcAddresses:  t.Strings("CcAddresses"),
		BccAddresses: t.Strings("BccAddresses"),
	}
}

func parseContent(t Tree) *Content {
	if t == nil {
		return nil
	}
	if _, ok := t["Data"]; !ok {
		return nil
	}
	return &Content{
		Data:    t.String("Data"),
		Charset: t.String("Charset"),
	}
}

func parseTags(t Tree, key string) []Tag {
	var tags []Tag
	for _, m := range t.Members(key) {
		entry, ok := m.(Tree)
		if !ok || entry.String("Name") == "" {
			continue
		}
		tags = append(tags, Tag{Name: entry.String("Name"), Value: entry.String("Value")})
	}
	return tags
}
